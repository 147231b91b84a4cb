package rules

import (
	"errors"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// ErrInvalidRuleSet 规则集校验失败
var ErrInvalidRuleSet = errors.New("invalid rule set")

// Parse 解析 YAML 或 JSON 规则集
func Parse(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// LoadFile 从文件读取规则集
func LoadFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, err
	}
	return Parse(data)
}

// Validate 检查规则 ID 唯一且动作合法
func (rs RuleSet) Validate() error {
	seen := make(map[RuleID]struct{}, len(rs.Rules))
	for i, r := range rs.Rules {
		if r.ID == "" {
			return fmt.Errorf("%w: rule #%d has no id", ErrInvalidRuleSet, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRuleSet, r.ID)
		}
		seen[r.ID] = struct{}{}

		switch r.Mode {
		case "", ModeAggregate, ModeShortCircuit:
		default:
			return fmt.Errorf("%w: rule %q has unknown mode %q", ErrInvalidRuleSet, r.ID, r.Mode)
		}
		if r.Action.Respond != nil && r.Action.Fail != nil {
			return fmt.Errorf("%w: rule %q both responds and fails", ErrInvalidRuleSet, r.ID)
		}
		for _, c := range append(append(append([]Condition{}, r.Match.AllOf...), r.Match.AnyOf...), r.Match.NoneOf...) {
			if c.Op == "regex" || c.Mode == "regex" {
				p := c.Value
				if c.Type == "url" {
					p = c.Pattern
				}
				if _, err := regexCache.Get(p); err != nil {
					return fmt.Errorf("%w: rule %q: %v", ErrInvalidRuleSet, r.ID, err)
				}
			}
		}
	}
	return nil
}
