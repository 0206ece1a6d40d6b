package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CfgConfig is the legacy `.cfg` INI-style configuration format, kept
// alongside the YAML-based RingSetConfig for deployments that still ship
// the older format.
// 格式:
//
//	KEY = VALUE (全局)
//	[SECTION]
//	KEY = VALUE (section 内)
type CfgConfig struct {
	// 全局参数
	DefaultRing string // DEFAULT_RING
	GlobalKeys  map[string]string

	// Per-ring section 参数 (e.g. [telemetry])
	Sections map[string]map[string]string
}

// ParseCfgFile 解析 legacy INI 格式配置文件.
// 格式: KEY = VALUE，支持 [SECTION]，# 和 ; 为注释
func ParseCfgFile(path string) (*CfgConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cfgFile: open %s: %w", path, err)
	}
	defer f.Close()

	cfg := &CfgConfig{
		GlobalKeys: make(map[string]string),
		Sections:   make(map[string]map[string]string),
	}

	scanner := bufio.NewScanner(f)
	currentSection := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		// [SECTION] header
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = strings.TrimPrefix(strings.TrimSuffix(line, "]"), "[")
			if _, ok := cfg.Sections[currentSection]; !ok {
				cfg.Sections[currentSection] = make(map[string]string)
			}
			continue
		}

		// KEY = VALUE or KEY=VALUE
		eqIdx := strings.Index(line, "=")
		if eqIdx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eqIdx])
		value := strings.TrimSpace(line[eqIdx+1:])

		if currentSection == "" {
			cfg.GlobalKeys[key] = value
		} else {
			cfg.Sections[currentSection][key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cfgFile: read %s: %w", path, err)
	}

	cfg.DefaultRing = cfg.GlobalKeys["DEFAULT_RING"]

	return cfg, nil
}

// GetRingConfig reads one [ring-name] section's SEGMENTSIZE/ELEMENTCOUNT/
// STATSENABLED keys. An empty name falls back to cfg.DefaultRing.
func (cfg *CfgConfig) GetRingConfig(name string) (segmentSize, elementCount int, statsEnabled bool, err error) {
	if name == "" {
		name = cfg.DefaultRing
	}

	section, ok := cfg.Sections[name]
	if !ok {
		err = fmt.Errorf("cfgFile: section [%s] 不存在", name)
		return
	}

	segmentSize, _ = strconv.Atoi(section["SEGMENTSIZE"])
	elementCount, _ = strconv.Atoi(section["ELEMENTCOUNT"])
	statsEnabled, _ = strconv.ParseBool(section["STATSENABLED"])
	return
}
