package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/pkg/capabilities"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/validation"
)

// Factory creates a new instance of a tool
type Factory func(logger logging.Logger) Tool

// Catalog holds tool factories in registration order
type Catalog struct {
	mu        sync.RWMutex
	order     []string
	factories map[string]Factory
	logger    logging.Logger
}

// NewCatalog creates an empty catalog
func NewCatalog(logger logging.Logger) *Catalog {
	return &Catalog{
		factories: make(map[string]Factory),
		logger:    logger.WithComponent("adapter.catalog"),
	}
}

// NewDefaultCatalog returns a catalog holding the built-in market analysis
// tools.
func NewDefaultCatalog(logger logging.Logger) *Catalog {
	c := NewCatalog(logger)
	c.MustRegister(router.MarketNews, newNewsTool)
	c.MustRegister(router.MarketData, newMarketDataTool)
	c.MustRegister(router.MarketSentiment, newSentimentTool)
	c.MustRegister(router.PortfolioRisk, newRiskTool)
	c.MustRegister(router.TradingPatterns, newPatternTool)
	c.MustRegister(router.ComprehensiveReport, newComprehensiveTool)
	c.MustRegister(router.MarketConditions, newConditionsTool)
	return c
}

// Register adds a tool factory
func (c *Catalog) Register(name string, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return errors.DuplicateCapability(name)
	}

	c.factories[name] = factory
	c.order = append(c.order, name)
	c.logger.Debug("tool_registered",
		"name", name,
		"total_tools", len(c.factories))

	return nil
}

// MustRegister registers a tool factory and panics on error
func (c *Catalog) MustRegister(name string, factory Factory) {
	if err := c.Register(name, factory); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", name, err))
	}
}

// Names returns the registered tool names in registration order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Create builds one tool instance
func (c *Catalog) Create(name string, logger logging.Logger) (Tool, error) {
	c.mu.RLock()
	factory, exists := c.factories[name]
	c.mu.RUnlock()

	if !exists {
		available := c.Names()
		c.logger.Error("tool_not_found",
			"error_type", string(errors.KindUnknownCapability),
			"requested", name,
			"available", available)
		return nil, errors.UnknownCapability(name, available)
	}

	tool := factory(logger)
	if tool.Name() != name {
		return nil, errors.Configuration("catalog", fmt.Sprintf("factory for %s built tool %s", name, tool.Name()))
	}
	return tool, nil
}

// Descriptors wraps every tool in an Adapter and returns the registry
// entries in registration order.
func (c *Catalog) Descriptors(validator *validation.Validator, logger logging.Logger) ([]capabilities.Descriptor, error) {
	names := c.Names()
	out := make([]capabilities.Descriptor, 0, len(names))
	for _, name := range names {
		tool, err := c.Create(name, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, NewAdapter(tool, validator, logger).Descriptor())
	}
	return out, nil
}

// ToolPrompt renders descriptors as a tool listing for a language model.
func ToolPrompt(descriptors []capabilities.Descriptor) string {
	var b strings.Builder
	b.WriteString("You have access to the following analysis tools:\n\n")

	for _, d := range descriptors {
		params := make(map[string]map[string]string, len(d.Parameters))
		for _, p := range d.Parameters {
			params[p.Name] = map[string]string{"type": p.Type, "description": p.Description}
		}
		encoded, err := json.MarshalIndent(params, "   ", "  ")
		if err != nil {
			encoded = []byte("{}")
		}

		fmt.Fprintf(&b, "%s:\n", d.Name)
		fmt.Fprintf(&b, "   Description: %s\n", d.Description)
		fmt.Fprintf(&b, "   Parameters: %s\n", encoded)
		fmt.Fprintf(&b, "   Category: %s\n\n", d.Category)
	}

	b.WriteString("Call these tools when you need specific analysis or data to answer a query.")
	return b.String()
}
