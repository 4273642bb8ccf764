package allocation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"solfolio/internal/pkg/symbol"
)

// profileFile 映射 YAML 权重覆盖文件。
type profileFile struct {
	Profiles map[int][]profileEntry `yaml:"profiles"`
}

type profileEntry struct {
	Symbol string `yaml:"symbol"`
	Weight int    `yaml:"weight"`
}

// LoadProfile 读取权重覆盖文件并做与内置表同等严格的校验。
// 只覆盖文件中出现的评分档，其余档位沿用内置表。
func LoadProfile(path string) (map[int][]WeightEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取权重覆盖文件失败: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("解析权重覆盖文件失败: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("权重覆盖文件为空: %s", path)
	}
	out := make(map[int][]WeightEntry, len(file.Profiles))
	for score, entries := range file.Profiles {
		if score < MinRiskScore || score > MaxRiskScore {
			return nil, fmt.Errorf("权重覆盖包含非法评分档: %d", score)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("评分档 %d 没有配置任何腿", score)
		}
		sum := 0
		converted := make([]WeightEntry, 0, len(entries))
		seen := make(map[string]bool, len(entries))
		for _, e := range entries {
			sym := strings.ToUpper(strings.TrimSpace(e.Symbol))
			if !symbol.Known(sym) {
				return nil, fmt.Errorf("评分档 %d 引用未注册资产: %s", score, e.Symbol)
			}
			if seen[sym] {
				return nil, fmt.Errorf("评分档 %d 重复配置资产: %s", score, sym)
			}
			seen[sym] = true
			if e.Weight <= 0 {
				return nil, fmt.Errorf("评分档 %d 资产 %s 权重必须为正整数", score, sym)
			}
			sum += e.Weight
			converted = append(converted, WeightEntry{Symbol: sym, Weight: e.Weight})
		}
		if sum != 100 {
			return nil, fmt.Errorf("评分档 %d 权重之和为 %d，必须恰为 100", score, sum)
		}
		out[score] = converted
	}
	return out, nil
}
