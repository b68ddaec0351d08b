package generator

import (
	"github.com/reeseleonb-crypto/quickpostkit/internal/config"
	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
)

const defaultNichePattern = `power\s*-?\s*wash|pressure\s*wash|soft\s*wash|cleaning`

var defaultNicheTags = []string{"#powerwashing", "#cleaningtips", "#satisfyingvideo"}

// DefaultNicheRules 返回内置的细分领域标签规则。
func DefaultNicheRules() []plan.NicheRule {
	rule, err := plan.NewNicheRule(defaultNichePattern, defaultNicheTags)
	if err != nil {
		return nil
	}
	return []plan.NicheRule{rule}
}

// RulesFromConfig 按配置顺序编译规则，配置为空时回落到内置规则。
func RulesFromConfig(cfg []config.NicheHashtagRule) ([]plan.NicheRule, error) {
	if len(cfg) == 0 {
		return DefaultNicheRules(), nil
	}
	rules := make([]plan.NicheRule, 0, len(cfg))
	for _, item := range cfg {
		rule, err := plan.NewNicheRule(item.Pattern, item.Tags)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
