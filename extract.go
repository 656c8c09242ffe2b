package course_archiver

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

var (
	ErrDuplicateStrategy = errors.New("duplicate strategy name")
	ErrInvalidStrategy   = errors.New("invalid strategy")
	ErrUnknownStrategy   = errors.New("unknown strategy")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// An ExtractionResult is the outcome of one strategy over one block: zero or
// more candidate asset URLs in preference order. Never mutated after creation.
type ExtractionResult struct {
	// StrategyName is filled in by the chain with the name of the strategy
	// that produced the result.
	StrategyName string
	URLs         []string
}

func (r ExtractionResult) Empty() bool {
	return len(r.URLs) == 0
}

// An ExtractFunc derives candidate asset URLs from block content. It must be
// pure over the supplied content (plus any side-channel context the content
// carries) and must not perform network calls of its own. Returning an empty
// result means "nothing found by this strategy"; returning an error means the
// strategy itself broke, which the chain logs and treats the same way.
type ExtractFunc = func(*BlockContent) (ExtractionResult, error)

// A Strategy is one heuristic method for locating an asset URL in block
// content.
type Strategy struct {
	Name    string
	Extract ExtractFunc
	// Priority of the strategy, lower (including negative) means trying earlier.
	Priority int16
}

func (s Strategy) WithPriority(priority int16) Strategy {
	s.Priority = priority
	return s
}

// A StrategyChain is an ordered collection of strategies, tried in priority
// order until one returns a non-empty result. Ordering is significant and
// caller-configurable so that cheaper or more reliable strategies run first.
type StrategyChain struct {
	strategies  []*Strategy
	strategyMap map[string]*Strategy
}

// Add registers a Strategy with the chain. Strategy.Name and Strategy.Extract
// must be set, and Strategy.Name must be unique within the chain.
func (c *StrategyChain) Add(s Strategy) error {
	if c.strategyMap == nil {
		c.strategyMap = make(map[string]*Strategy)
	}
	if s.Name == "" || s.Extract == nil {
		return ErrInvalidStrategy
	}
	if _, ok := c.strategyMap[s.Name]; ok {
		return ErrDuplicateStrategy
	}
	c.strategyMap[s.Name] = &s
	c.strategies = append(c.strategies, c.strategyMap[s.Name])
	c.sortByPriority()
	return nil
}

// Create is a shortcut for Add(Strategy{Name: ..., Extract: ...}).
func (c *StrategyChain) Create(name string, f ExtractFunc) error {
	return c.Add(Strategy{Name: name, Extract: f})
}

// CreatePriority is a shortcut for Add(Strategy{Name: ..., Extract: ..., Priority: ...}).
func (c *StrategyChain) CreatePriority(name string, f ExtractFunc, priority int16) error {
	return c.Add(Strategy{Name: name, Extract: f, Priority: priority})
}

// MustAdd wraps Add but panics if there is an error.
func (c *StrategyChain) MustAdd(s Strategy) {
	if err := c.Add(s); err != nil {
		panic(err)
	}
}

// List returns the names of registered strategies in priority order.
func (c *StrategyChain) List() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name)
	}
	return names
}

// SetPriority adjusts the priority of a named strategy, re-sorting the chain.
func (c *StrategyChain) SetPriority(name string, priority int16) error {
	if s, ok := c.strategyMap[name]; ok {
		s.Priority = priority
		c.sortByPriority()
		return nil
	}
	return ErrUnknownStrategy
}

// Resolve runs the block content through each strategy in priority order,
// returning the first non-empty result. A strategy that fails internally is
// logged and skipped, so one brittle heuristic cannot abort the chain. If
// every strategy returns empty or fails, Resolve returns an *ExtractionError
// naming the attempted strategies.
func (c *StrategyChain) Resolve(block *BlockContent) (ExtractionResult, error) {
	log := zap.S().Named("extract")
	var internalErrs error
	attempted := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		result, err := s.Extract(block)
		if err != nil {
			log.Warnw("extraction strategy failed",
				"strategy", s.Name, "block_id", block.BlockID, "error", err)
			internalErrs = multierror.Append(internalErrs, multierror.Prefix(err, fmt.Sprintf("[%v]", s.Name)))
			attempted = append(attempted, s.Name)
			continue
		}
		if !result.Empty() {
			result.StrategyName = s.Name
			return result, nil
		}
		attempted = append(attempted, s.Name)
	}
	return ExtractionResult{}, &ExtractionError{Attempted: attempted, Err: internalErrs}
}

func (c *StrategyChain) sortByPriority() {
	sort.SliceStable(c.strategies, func(i, j int) bool {
		return c.strategies[i].Priority < c.strategies[j].Priority
	})
}

// DefaultStrategyChain is the chain the built-in strategies register with.
var DefaultStrategyChain StrategyChain
