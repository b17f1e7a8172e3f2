package poller

import (
	"math/rand"
	"time"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/BearBump/ShopTrack/internal/status"
)

type Rand interface {
	Intn(n int) int
}

// PlannerConfig задаёт, сколько живёт снапшот до следующего запроса к провайдеру.
type PlannerConfig struct {
	TerminalMaxAge time.Duration // default: 24 hours

	InProgressMinAge time.Duration // default: 1 minute
	InProgressMaxAge time.Duration // default: 1 minute

	OnHoldMaxAge time.Duration // default: 5 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		TerminalMaxAge: 24 * time.Hour,

		InProgressMinAge: 1 * time.Minute,
		InProgressMaxAge: 1 * time.Minute,

		OnHoldMaxAge: 5 * time.Minute,
	}
}

type Planner struct {
	cfg PlannerConfig
	r   Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.TerminalMaxAge <= 0 {
		cfg.TerminalMaxAge = def.TerminalMaxAge
	}
	if cfg.InProgressMinAge <= 0 {
		cfg.InProgressMinAge = def.InProgressMinAge
	}
	if cfg.InProgressMaxAge <= 0 {
		cfg.InProgressMaxAge = def.InProgressMaxAge
	}
	if cfg.InProgressMaxAge < cfg.InProgressMinAge {
		cfg.InProgressMaxAge = cfg.InProgressMinAge
	}
	if cfg.OnHoldMaxAge <= 0 {
		cfg.OnHoldMaxAge = def.OnHoldMaxAge
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

// MaxAge is the freshness threshold for a snapshot classified as stage.
func (p *Planner) MaxAge(stage models.Stage) time.Duration {
	switch {
	case stage.Terminal():
		return p.cfg.TerminalMaxAge
	case stage == models.StageOnHold:
		return p.cfg.OnHoldMaxAge
	default:
		min := p.cfg.InProgressMinAge
		max := p.cfg.InProgressMaxAge
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		// Разброс, чтобы посылки одной партии не опрашивались одновременно.
		return time.Duration(secMin+p.r.Intn(secMax-secMin+1)) * time.Second
	}
}

// Due reports whether the cached snapshot must be fetched again at now.
func (p *Planner) Due(s models.TrackingSnapshot, now time.Time) bool {
	stage, _ := status.ClassifySnapshot(s)
	return !now.Before(s.LastFetchedAt.Add(p.MaxAge(stage)))
}
