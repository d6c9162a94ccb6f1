package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mmeshcher/cvbuilder-pay/internal/config"
)

var hardcodedToken = regexp.MustCompile(`APP_USR-[a-zA-Z0-9-]+`)

// report собирает результаты проверок.
type report struct {
	passed   []string
	warnings []string
	failed   []string
}

func (r *report) pass(format string, args ...any) {
	r.passed = append(r.passed, fmt.Sprintf(format, args...))
}

func (r *report) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

func (r *report) fail(format string, args ...any) {
	r.failed = append(r.failed, fmt.Sprintf(format, args...))
}

func (r *report) print(w io.Writer) {
	sections := []struct {
		title string
		items []string
	}{
		{"PASSED", r.passed},
		{"WARNINGS", r.warnings},
		{"FAILED", r.failed},
	}

	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s:\n", s.title)
		for _, item := range s.items {
			fmt.Fprintf(w, "  - %s\n", item)
		}
		fmt.Fprintln(w)
	}
}

func doctorCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check payment proxy configuration before deploying",
		Long: `Run security checks against a project directory:
- access token present in .env and not the template placeholder
- .env ignored by git
- no access token hardcoded in Go sources
- allowed origins and payment amount range`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := runChecks(dir, environ())
			r.print(cmd.OutOrStdout())

			if len(r.failed) > 0 {
				return errors.New("security check failed, fix the problems above before deploying")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All security checks passed.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory")

	return cmd
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// runChecks проверяет проект в dir. Значения из .env дополняют переменные
// окружения процесса, но не перекрывают их.
func runChecks(dir string, environment map[string]string) *report {
	r := &report{}

	vars := make(map[string]string, len(environment))
	for k, v := range environment {
		vars[k] = v
	}

	checkEnvFile(r, filepath.Join(dir, ".env"), vars)
	checkGitignore(r, filepath.Join(dir, ".gitignore"))
	checkHardcodedTokens(r, dir)
	checkConfig(r, vars)

	return r
}

func checkEnvFile(r *report, path string, vars map[string]string) {
	fileVars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.warn(".env file not found (required in production unless variables are set by the platform)")
		} else {
			r.warn("could not read .env: %v", err)
		}
		return
	}

	for k, v := range fileVars {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}

	token, ok := fileVars["MERCADO_PAGO_ACCESS_TOKEN"]
	switch {
	case !ok:
		r.fail("MERCADO_PAGO_ACCESS_TOKEN not found in .env")
	case strings.TrimSpace(token) == "" || token == config.PlaceholderToken:
		r.fail("access token is not configured in .env")
	default:
		r.pass(".env found with access token configured")
	}
}

func checkGitignore(r *report, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.warn("could not read .gitignore: %v", err)
		}
		return
	}

	if strings.Contains(string(raw), ".env") {
		r.pass(".env is listed in .gitignore")
	} else {
		r.fail(".env is NOT listed in .gitignore")
	}
}

func checkHardcodedTokens(r *report, dir string) {
	found := false

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != dir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if hardcodedToken.Match(raw) {
			rel, _ := filepath.Rel(dir, path)
			r.fail("hardcoded access token found in %s", rel)
			found = true
		}
		return nil
	})
	if err != nil {
		r.warn("could not scan sources: %v", err)
		return
	}

	if !found {
		r.pass("no hardcoded access tokens in Go sources")
	}
}

func checkConfig(r *report, vars map[string]string) {
	var cfg config.Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		r.fail("configuration cannot be parsed: %v", err)
		return
	}
	if cfg.RateLimitStore == "" {
		cfg.RateLimitStore = config.StoreMemory
	}

	if !cfg.TokenConfigured() {
		r.fail("MERCADO_PAGO_ACCESS_TOKEN is not set, both payment endpoints will answer 500")
	}

	if len(cfg.AllowedOrigins) == 0 {
		r.warn("ALLOWED_ORIGINS is empty, responses will allow any origin")
	} else {
		r.pass("allowed origins: %s", strings.Join(cfg.AllowedOrigins, ", "))
	}

	if err := cfg.Validate(); err != nil {
		for _, e := range strings.Split(err.Error(), "\n") {
			r.fail("%s", e)
		}
		return
	}
	r.pass("payment amount range %s..%s, default %s", cfg.MinAmount, cfg.MaxAmount, cfg.DefaultAmount)
}
