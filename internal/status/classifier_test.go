package status

import (
	"strings"
	"testing"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		secondary string
		want      models.Stage
		terminal  bool
	}{
		{name: "empty", want: models.StageCreated},
		{name: "whitespace", raw: "   ", secondary: "\t", want: models.StageCreated},
		{name: "unknown", raw: "zzz-42", want: models.StageCreated},
		{name: "new", raw: "NEW", want: models.StageCreated},
		{name: "en attente", raw: "En attente", want: models.StageCreated},
		{name: "confirmed", raw: "Confirmé", want: models.StageConfirmed},
		{name: "waiting pickup", raw: "En attente de ramassage", want: models.StageConfirmed},
		{name: "picked up", raw: "Ramassé", want: models.StagePickedUp},
		{name: "picked up coded", raw: "PICKED_UP", want: models.StagePickedUp},
		{name: "distribution coded", raw: "DISTRIBUTION", want: models.StageInTransit},
		{name: "distribution free text", raw: "en cours de distribution", want: models.StageInTransit},
		{name: "distribution mixed case", raw: "DiStRiBuTiOn", want: models.StageInTransit},
		{name: "in transit coded", raw: "IN_TRANSIT", want: models.StageInTransit},
		{name: "acheminement", raw: "En cours d'acheminement", want: models.StageInTransit},
		{name: "out for delivery", raw: "En cours de livraison", want: models.StageOutForDelivery},
		{name: "with courier", raw: "Avec livreur", want: models.StageOutForDelivery},
		{name: "out for delivery coded", raw: "OUT_FOR_DELIVERY", want: models.StageOutForDelivery},
		{name: "secondary no answer holds distribution", raw: "Distribution", secondary: "Pas de réponse", want: models.StageOnHold},
		{name: "secondary unreachable", raw: "IN_TRANSIT", secondary: "Injoignable", want: models.StageOnHold},
		{name: "secondary out of zone", raw: "Distribution", secondary: "HORS_ZONE", want: models.StageOnHold},
		{name: "secondary postponed", raw: "Distribution", secondary: "Reporté", want: models.StageOnHold},
		{name: "secondary rescheduled", raw: "En cours de livraison", secondary: "Reprogrammé", want: models.StageOnHold},
		{name: "secondary nth attempt", raw: "Distribution", secondary: "2ème tentative", want: models.StageOnHold},
		{name: "refused", raw: "Refusé", want: models.StageOnHold},
		{name: "not delivered", raw: "Non livré", want: models.StageOnHold},
		{name: "delivered", raw: "Livré", want: models.StageDelivered, terminal: true},
		{name: "delivered feminine", raw: "livrée", want: models.StageDelivered, terminal: true},
		{name: "delivered english", raw: "DELIVERED", want: models.StageDelivered, terminal: true},
		{name: "delivered arabic", raw: "تم التسليم", want: models.StageDelivered, terminal: true},
		{name: "returned", raw: "Retourné", want: models.StageReturned, terminal: true},
		{name: "returned after attempt", raw: "returned after distribution attempt", want: models.StageReturned, terminal: true},
		{name: "return to sender", raw: "RETOUR_EXPEDITEUR", want: models.StageReturned, terminal: true},
		{name: "cancelled", raw: "Annulé", want: models.StageCancelled, terminal: true},
		{name: "canceled english", raw: "canceled", want: models.StageCancelled, terminal: true},
		{name: "terminal in secondary wins", raw: "Distribution", secondary: "Retourné", want: models.StageReturned, terminal: true},
		{name: "delivered beats hold in secondary", raw: "Livré", secondary: "Pas de réponse", want: models.StageDelivered, terminal: true},
		{name: "not delivered with auxiliary", raw: "Colis n'a pas été livré", want: models.StageOnHold},
		{name: "not yet delivered english", raw: "Parcel not yet delivered", want: models.StageOnHold},
		{name: "never delivered", raw: "jamais livré", want: models.StageOnHold},
		{name: "negation does not cross into secondary", raw: "Pas de réponse", secondary: "Livré", want: models.StageDelivered, terminal: true},
		{name: "returned despite negated delivery", raw: "Retour: non livré", want: models.StageReturned, terminal: true},
		{name: "ready for pickup", raw: "Ready for pickup", want: models.StageConfirmed},
		{name: "ready for pickup french", raw: "Prêt pour ramassage", want: models.StageConfirmed},
		{name: "ready alone", raw: "Prêt", want: models.StageConfirmed},
		{name: "pret inside a word", raw: "Interpreted", want: models.StageCreated},
		{name: "delivery failed french", raw: "Livraison échouée", want: models.StageOnHold},
		{name: "delivery failure french", raw: "Echec de livraison", want: models.StageOnHold},
		{name: "delivery failed english", raw: "Delivery failed", want: models.StageOnHold},
		{name: "secondary progress used when primary unknown", raw: "???", secondary: "en transit", want: models.StageInTransit},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, terminal := Classify(tc.raw, tc.secondary)
			require.Equal(t, tc.want, got, "Classify(%q, %q)", tc.raw, tc.secondary)
			require.Equal(t, tc.terminal, terminal)
		})
	}
}

func TestClassify_CanonicalNamesRoundTrip(t *testing.T) {
	for _, st := range models.Stages {
		got, terminal := Classify(string(st), "")
		require.Equal(t, st, got)
		require.Equal(t, st.Terminal(), terminal)
	}
}

func TestClassify_Totality(t *testing.T) {
	inputs := []string{
		"", " ", "\x00", "🚚", "ÉÈÊ", strings.Repeat("a", 4096),
		"livr", "tr@nsit", "́́", "日本語",
	}
	for _, a := range inputs {
		for _, b := range inputs {
			st, terminal := Classify(a, b)
			require.True(t, st.Valid(), "Classify(%q, %q) = %q", a, b, st)
			require.Equal(t, st.Terminal(), terminal)
		}
	}
}

func TestClassify_TerminalPrecedence(t *testing.T) {
	var progress []string
	for _, r := range progressRules {
		progress = append(progress, r.keywords...)
	}
	progress = append(progress, exceptionKeywords...)

	for _, r := range terminalRules {
		for _, term := range r.keywords {
			for _, p := range progress {
				st, terminal := Classify(p+" / "+term, "")
				require.True(t, terminal, "%q + %q classified as %s", p, term, st)

				st, terminal = Classify(p, term)
				require.True(t, terminal, "%q / %q classified as %s", p, term, st)
			}
		}
	}
}

func TestIsOpen(t *testing.T) {
	require.True(t, IsOpen(models.Order{RawStatus: "Distribution"}))
	require.True(t, IsOpen(models.Order{}))
	require.False(t, IsOpen(models.Order{RawStatus: "Livré"}))
}
