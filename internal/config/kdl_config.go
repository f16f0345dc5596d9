package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL attempts to load configuration from a .keel.kdl file in the
// project root. Returns (nil, nil) when no file exists so callers fall
// back to defaults.
func LoadKDL(projectRoot string) (*Config, error) {
	kdlPath := filepath.Join(projectRoot, ".keel.kdl")

	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}

	content, err := os.ReadFile(kdlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read .keel.kdl: %v", err)
	}

	cfg, err := parseKDL(projectRoot, string(content))
	if err != nil {
		return nil, err
	}

	// Resolve a relative root against the directory holding the config
	// file so handle identity stays stable regardless of cwd.
	if cfg.Project.Root == "" {
		cfg.Project.Root = projectRoot
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(projectRoot, cfg.Project.Root)
	}
	cfg.Project.Root = filepath.Clean(cfg.Project.Root)

	return cfg, nil
}

// parseKDL walks the KDL document and overlays values onto defaults.
func parseKDL(projectRoot, content string) (*Config, error) {
	cfg := Default(projectRoot)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "root":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Root = s
					}
				case "name":
					if s, ok := firstStringArg(cn); ok {
						cfg.Project.Name = s
					}
				}
			}
		case "workspace":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "idle_eviction_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.IdleEviction = time.Duration(v) * time.Second
					}
				case "sweep_interval_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.SweepInterval = time.Duration(v) * time.Second
					}
				case "close_grace_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.CloseGrace = time.Duration(v) * time.Millisecond
					}
				case "max_workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.MaxWorkers = v
					}
				case "acquire_timeout_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.AcquireTimeout = time.Duration(v) * time.Second
					}
				case "stale_retry_limit":
					if v, ok := firstIntArg(cn); ok {
						cfg.Workspace.StaleRetryLimit = v
					}
				}
			}
		case "budget":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "max_tokens":
					if v, ok := firstIntArg(cn); ok {
						cfg.Budget.MaxTokens = v
					}
				case "min_useful_tokens":
					if v, ok := firstIntArg(cn); ok {
						cfg.Budget.MinUsefulTokens = v
					}
				case "sample_size":
					if v, ok := firstIntArg(cn); ok {
						cfg.Budget.SampleSize = v
					}
				case "envelope_tokens":
					if v, ok := firstIntArg(cn); ok {
						cfg.Budget.EnvelopeTokens = v
					}
				case "fallback_item_tokens":
					if v, ok := firstIntArg(cn); ok {
						cfg.Budget.FallbackItemTokens = v
					}
				case "irregularity":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Budget.Irregularity = v
					}
				case "chars_per_token":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Budget.CharsPerToken = v
					}
				case "json_overhead":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Budget.JSONOverhead = v
					}
				case "steps":
					if steps := collectIntArgs(cn); len(steps) > 0 {
						cfg.Budget.Steps = steps
					}
				}
			}
		case "resource":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "ttl_min":
					if v, ok := firstIntArg(cn); ok {
						cfg.Resource.TTL = time.Duration(v) * time.Minute
					}
				case "sweep_interval_sec":
					if v, ok := firstIntArg(cn); ok {
						cfg.Resource.SweepInterval = time.Duration(v) * time.Second
					}
				case "max_entries":
					if v, ok := firstIntArg(cn); ok {
						cfg.Resource.MaxEntries = v
					}
				}
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.Debounce = time.Duration(v) * time.Millisecond
					}
				case "include":
					cfg.Watch.Include = collectStringArgs(cn)
				case "exclude":
					cfg.Watch.Exclude = collectStringArgs(cn)
				}
			}
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		}
	}

	return cfg, nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// collectStringArgs gathers strings from inline arguments or, for block
// form like `exclude { "pattern" }`, from child node names.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if name := nodeName(child); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

func collectIntArgs(n *document.Node) []int {
	if n == nil {
		return nil
	}
	out := make([]int, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		switch v := a.Value.(type) {
		case int64:
			out = append(out, int(v))
		case float64:
			out = append(out, int(v))
		}
	}
	return out
}
