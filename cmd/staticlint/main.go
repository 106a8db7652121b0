// Command staticlint runs the project's static checks as a single
// multichecker binary: analyzers from the Go toolchain, ineffassign and
// nilerr, a configurable set of staticcheck analyzers, and the project
// analyzers noosexit and ctxkey.
//
// The staticcheck analyzers to enable are listed in config.json next to the
// binary:
//
//	{"Staticcheck": ["SA1000", "SA4010"]}
//
// Without the file every SA analyzer is enabled.
package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gordonklaus/ineffassign/pkg/ineffassign"
	"github.com/gostaticanalysis/nilerr"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/copylock"
	"golang.org/x/tools/go/analysis/passes/loopclosure"
	"golang.org/x/tools/go/analysis/passes/lostcancel"
	"golang.org/x/tools/go/analysis/passes/printf"
	"golang.org/x/tools/go/analysis/passes/structtag"
	"golang.org/x/tools/go/analysis/passes/unmarshal"
	"golang.org/x/tools/go/analysis/passes/unreachable"
	"honnef.co/go/tools/staticcheck"

	"github.com/patric-chuzhbe/minurl/cmd/staticlint/ctxkey"
	"github.com/patric-chuzhbe/minurl/cmd/staticlint/noosexit"
)

// Config is the name of the JSON file listing the enabled staticcheck analyzers.
const Config = `config.json`

// ConfigData describes the configuration file.
type ConfigData struct {
	Staticcheck []string
}

func loadConfig() (ConfigData, bool, error) {
	appfile, err := os.Executable()
	if err != nil {
		return ConfigData{}, false, err
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(appfile), Config))
	if errors.Is(err, os.ErrNotExist) {
		return ConfigData{}, false, nil
	}
	if err != nil {
		return ConfigData{}, false, err
	}

	var cfg ConfigData
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ConfigData{}, false, err
	}

	return cfg, true, nil
}

func main() {
	cfg, found, err := loadConfig()
	if err != nil {
		panic(err)
	}

	myChecks := []*analysis.Analyzer{
		copylock.Analyzer,
		loopclosure.Analyzer,
		lostcancel.Analyzer,
		printf.Analyzer,
		structtag.Analyzer,
		unmarshal.Analyzer,
		unreachable.Analyzer,

		ineffassign.Analyzer,
		nilerr.Analyzer,

		noosexit.Analyzer,
		ctxkey.Analyzer,
	}

	checks := make(map[string]bool)
	for _, v := range cfg.Staticcheck {
		checks[v] = true
	}

	for _, v := range staticcheck.Analyzers {
		if checks[v.Analyzer.Name] || (!found && strings.HasPrefix(v.Analyzer.Name, "SA")) {
			myChecks = append(myChecks, v.Analyzer)
		}
	}

	multichecker.Main(myChecks...)
}
