package status

import "github.com/BearBump/ShopTrack/internal/models"

// Все ключевые слова записаны в нормализованном виде (см. normalize):
// нижний регистр, без диакритики, "_", "-" и апострофы заменены пробелом.
// Пробелы по краям ключевого слова требуют совпадения целого слова.

type rule struct {
	stage    models.Stage
	keywords []string
}

// negatedPhrases mean the parcel is NOT closed even though they contain a
// terminal keyword. They are cut out before terminal matching and hold the parcel.
var negatedPhrases = []string{
	"non livre",
	"pas livre",
	"not delivered",
	"undelivered",
	"non remis",
	"لم يتم التسليم",
}

// negators open a short window: a terminal keyword among the next
// negationWindow words is negated ("n a pas ete livre", "not yet delivered").
var negators = []string{"pas", "non", "not", "jamais", "never"}

const negationWindow = 3

// maskedPhrases are in-progress words that embed a terminal keyword.
var maskedPhrases = []string{
	"livreur",
	"livrer",
}

// Порядок важен: первый совпавший выигрывает.
var terminalRules = []rule{
	{stage: models.StageReturned, keywords: []string{
		"return", "retour", "renvoye", "renvoi", "rtn",
		"مرتجع", "ارجاع",
	}},
	{stage: models.StageCancelled, keywords: []string{
		"cancel", "annul", "ملغى", "ملغي", "الغاء",
	}},
	{stage: models.StageDelivered, keywords: []string{
		"delivered", "livre", "remis au client", "remis au destinataire",
		"تم التسليم", "سلمت",
	}},
}

var exceptionKeywords = []string{
	"refus",
	"unreachable", "injoignable", "non joignable",
	"no answer", "pas de reponse", "sans reponse", "ne repond pas",
	"out of zone", "hors zone",
	"postpone", "reporte",
	"reschedul", "reprogramm",
	"attempt", "tentative",
	"echec", "echou", "failed",
	"on hold",
	"absent",
	"wrong number", "numero errone",
	"لا يجيب", "مؤجل",
}

var progressRules = []rule{
	{stage: models.StageOutForDelivery, keywords: []string{
		"out for delivery", "en cours de livraison", "en livraison", "livreur",
		"mise en livraison", "قيد التوصيل",
	}},
	{stage: models.StageInTransit, keywords: []string{
		"distribution", "transit", "en route", "acheminement", "shipped",
		"expedie", "envoye", "centre de tri", "sorting", "hub", "في الطريق",
	}},
	// "ожидает забора" должно идти раньше общего PICKED_UP.
	{stage: models.StageConfirmed, keywords: []string{
		"attente de ramassage", "waiting for pickup", "awaiting pickup", "pending pickup", "a ramasser",
		"ready for pickup", "pret pour ramassage", "pret a ramasser",
	}},
	{stage: models.StagePickedUp, keywords: []string{
		"picked up", "pickup", "ramasse", "collecte", "pris en charge",
	}},
	{stage: models.StageConfirmed, keywords: []string{
		"confirm", "valide", "accepted", "accepte", " pret ", " ready ", "مؤكد",
	}},
	{stage: models.StageCreated, keywords: []string{
		"created", "new", "nouveau", "nouvelle", "pending", "en attente", "جديد",
	}},
}
