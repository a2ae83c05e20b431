package index

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arkilian/bookingstore/internal/config"
	"github.com/arkilian/bookingstore/internal/observability"
	"github.com/arkilian/bookingstore/pkg/types"
)

// Definition is a store-wide index definition. Auto marks indexes the
// policy created and may drop again.
type Definition struct {
	Fields types.Fields `json:"fields"`
	Auto   bool         `json:"auto"`
}

// Registry applies index definitions to every partition. The store engine
// implements it.
type Registry interface {
	DefineIndex(ctx context.Context, fields types.Fields, auto bool) error
	DropIndex(ctx context.Context, fields types.Fields) error
	IndexDefinitions() []Definition
}

// ActionType represents the type of index action to perform.
type ActionType string

const (
	ActionCreate ActionType = "CREATE"
	ActionDrop   ActionType = "DROP"
)

// IndexAction represents an action to create or drop an index.
type IndexAction struct {
	Type   ActionType
	Fields types.Fields
}

// Policy defines indexes for field tuples that queries keep scanning
// partitions for, and drops automatic indexes that fell out of use.
type Policy struct {
	stats           *observability.QueryStats
	registry        Registry
	createThreshold int64
	dropThreshold   int64
	checkInterval   time.Duration
	maxIndexes      int
	mu              sync.Mutex
}

// NewPolicy creates a new index policy manager.
func NewPolicy(stats *observability.QueryStats, registry Registry, cfg config.IndexConfig) *Policy {
	return &Policy{
		stats:           stats,
		registry:        registry,
		createThreshold: cfg.CreateThreshold,
		dropThreshold:   cfg.DropThreshold,
		checkInterval:   cfg.CheckInterval,
		maxIndexes:      cfg.MaxIndexes,
	}
}

// Run starts the background policy evaluation loop.
// It runs until the context is cancelled.
func (p *Policy) Run(ctx context.Context) {
	if p.checkInterval <= 0 {
		p.checkInterval = 5 * time.Minute
	}

	ticker := time.NewTicker(p.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Apply(ctx)
			p.stats.Prune()
		}
	}
}

// Apply evaluates the statistics once and executes the resulting actions.
func (p *Policy) Apply(ctx context.Context) []IndexAction {
	actions := p.evaluate()
	for _, action := range actions {
		if err := p.executeAction(ctx, action); err != nil {
			log.Printf("index policy: failed to execute %s action for (%s): %v",
				action.Type, action.Fields, err)
		}
	}
	return actions
}

// evaluate determines which index actions should be taken based on query
// statistics.
func (p *Policy) evaluate() []IndexAction {
	p.mu.Lock()
	defer p.mu.Unlock()

	var actions []IndexAction

	existing := p.registry.IndexDefinitions()
	defined := make(map[string]bool, len(existing))
	for _, def := range existing {
		defined[def.Fields.String()] = true
	}
	count := len(existing)

	for _, st := range p.stats.GetTopUnindexed(p.maxIndexes + 10) {
		if st.Frequency < p.createThreshold || defined[st.Field] || count >= p.maxIndexes {
			continue
		}
		fields, err := types.ParseFields(st.Field)
		if err != nil {
			continue
		}
		actions = append(actions, IndexAction{Type: ActionCreate, Fields: fields})
		defined[st.Field] = true
		count++
	}

	// An automatic index answers the queries that created it, so its
	// unindexed frequency stops growing; judge it by predicate usage of its
	// leading field instead.
	usage := make(map[string]int64)
	for _, st := range p.stats.GetTopPredicates(1 << 10) {
		usage[st.Field] = st.Frequency
	}
	for _, def := range existing {
		if !def.Auto || len(def.Fields) == 0 {
			continue
		}
		if usage[string(def.Fields[0])] < p.dropThreshold {
			actions = append(actions, IndexAction{Type: ActionDrop, Fields: def.Fields})
		}
	}

	return actions
}

// executeAction performs the specified index action.
func (p *Policy) executeAction(ctx context.Context, action IndexAction) error {
	switch action.Type {
	case ActionCreate:
		log.Printf("index policy: creating index on (%s)", action.Fields)
		return p.registry.DefineIndex(ctx, action.Fields, true)
	case ActionDrop:
		log.Printf("index policy: dropping index on (%s)", action.Fields)
		return p.registry.DropIndex(ctx, action.Fields)
	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}
