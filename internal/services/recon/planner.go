package recon

import (
	"math/rand"
	"sync"
	"time"

	"github.com/BearBump/ReconBox/config"
	"github.com/BearBump/ReconBox/internal/models"
)

type Rand interface {
	Intn(n int) int
}

type PlannerConfig struct {
	TerminalDelay time.Duration // default: 365 days

	InTransitMinDelay time.Duration // default: 30 minutes
	InTransitMaxDelay time.Duration // default: 120 minutes

	OutForDeliveryDelay time.Duration // default: 10 minutes

	DefaultDelay time.Duration // default: 90 minutes

	Backoff1 time.Duration // default: 5 minutes
	Backoff2 time.Duration // default: 15 minutes
	Backoff3 time.Duration // default: 30 minutes
	Backoff4 time.Duration // default: 60 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		TerminalDelay: 365 * 24 * time.Hour,

		InTransitMinDelay: 30 * time.Minute,
		InTransitMaxDelay: 120 * time.Minute,

		OutForDeliveryDelay: 10 * time.Minute,

		DefaultDelay: 90 * time.Minute,

		Backoff1: 5 * time.Minute,
		Backoff2: 15 * time.Minute,
		Backoff3: 30 * time.Minute,
		Backoff4: 60 * time.Minute,
	}
}

// PlannerConfigFrom берёт тюнинг из yaml; нулевые поля остаются дефолтными.
func PlannerConfigFrom(rc config.ReconConfig) PlannerConfig {
	cfg := PlannerConfig{}
	if rc.NextCheckInTransitMinSeconds > 0 {
		cfg.InTransitMinDelay = time.Duration(rc.NextCheckInTransitMinSeconds) * time.Second
	}
	if rc.NextCheckInTransitMaxSeconds > 0 {
		cfg.InTransitMaxDelay = time.Duration(rc.NextCheckInTransitMaxSeconds) * time.Second
	}
	if rc.NextCheckOutForDeliverySeconds > 0 {
		cfg.OutForDeliveryDelay = time.Duration(rc.NextCheckOutForDeliverySeconds) * time.Second
	}
	if rc.NextCheckDefaultSeconds > 0 {
		cfg.DefaultDelay = time.Duration(rc.NextCheckDefaultSeconds) * time.Second
	}
	if rc.Backoff1Seconds > 0 {
		cfg.Backoff1 = time.Duration(rc.Backoff1Seconds) * time.Second
	}
	if rc.Backoff2Seconds > 0 {
		cfg.Backoff2 = time.Duration(rc.Backoff2Seconds) * time.Second
	}
	if rc.Backoff3Seconds > 0 {
		cfg.Backoff3 = time.Duration(rc.Backoff3Seconds) * time.Second
	}
	if rc.Backoff4Seconds > 0 {
		cfg.Backoff4 = time.Duration(rc.Backoff4Seconds) * time.Second
	}
	return cfg
}

type Planner struct {
	cfg PlannerConfig

	// math/rand.Rand не потокобезопасен, а партиции батча зовут планировщик
	// из параллельных горутин.
	mu sync.Mutex
	r  Rand
}

func NewPlanner(cfg PlannerConfig, r Rand) *Planner {
	def := DefaultPlannerConfig()
	if cfg.TerminalDelay <= 0 {
		cfg.TerminalDelay = def.TerminalDelay
	}
	if cfg.InTransitMinDelay <= 0 {
		cfg.InTransitMinDelay = def.InTransitMinDelay
	}
	if cfg.InTransitMaxDelay <= 0 {
		cfg.InTransitMaxDelay = def.InTransitMaxDelay
	}
	if cfg.InTransitMaxDelay < cfg.InTransitMinDelay {
		cfg.InTransitMaxDelay = cfg.InTransitMinDelay
	}
	if cfg.OutForDeliveryDelay <= 0 {
		cfg.OutForDeliveryDelay = def.OutForDeliveryDelay
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = def.DefaultDelay
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{cfg: cfg, r: r}
}

func DefaultPlanner() *Planner {
	return NewPlanner(DefaultPlannerConfig(), nil)
}

func (p *Planner) NextCheckDelay(status models.Status) time.Duration {
	if status.IsTerminal() {
		// Терминальные отправления паркуем: sweeper их и так не выбирает,
		// но явный горизонт дешевле, чем вечный next_check_at в прошлом.
		return p.cfg.TerminalDelay
	}
	switch status {
	case models.StatusOutForDelivery:
		return p.cfg.OutForDeliveryDelay
	case models.StatusInTransit, models.StatusShipped:
		min := p.cfg.InTransitMinDelay
		max := p.cfg.InTransitMaxDelay
		if max == min {
			return min
		}
		secMin := int(min.Seconds())
		secMax := int(max.Seconds())
		if secMin < 0 {
			secMin = 0
		}
		if secMax < secMin {
			secMax = secMin
		}
		p.mu.Lock()
		n := p.r.Intn(secMax - secMin + 1)
		p.mu.Unlock()
		return time.Duration(secMin+n) * time.Second
	default:
		return p.cfg.DefaultDelay
	}
}

func (p *Planner) BackoffDelay(nextFailCount int32) time.Duration {
	switch {
	case nextFailCount <= 1:
		return p.cfg.Backoff1
	case nextFailCount == 2:
		return p.cfg.Backoff2
	case nextFailCount == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
