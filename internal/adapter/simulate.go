package adapter

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// sim is a deterministic generator seeded from the request, so identical
// arguments always produce identical payloads.
type sim struct {
	r *rand.Rand
}

func newSim(parts ...string) *sim {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	seed := h.Sum64()
	return &sim{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *sim) between(lo, hi float64) float64 {
	return round2(lo + s.r.Float64()*(hi-lo))
}

func (s *sim) intn(n int) int {
	return s.r.IntN(n)
}

func (s *sim) pick(options ...string) string {
	return options[s.r.IntN(len(options))]
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// stringList reads a validated array argument; JSON callers send
// []interface{}, Go callers []string.
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

// symbolsArg normalises the symbols argument to upper case, keeping order.
func symbolsArg(args map[string]interface{}) []string {
	symbols := stringList(args["symbols"])
	for i, s := range symbols {
		symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return symbols
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
