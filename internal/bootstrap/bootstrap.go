package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dua-ia/dua-credits/internal/config"
)

// InitOptions configures the bootstrap process for generating config files.
type InitOptions struct {
	Root        string
	Environment string
	AdminEmail  string
	Driver      string
	LedgerPath  string
	DatabaseDSN string
	GateMode    string
	AuthSecret  string
	Force       bool
}

// Init scaffolds configuration files for the credits service.
func Init(opts InitOptions) error {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(opts.Root, "config", opts.Environment)); err != nil {
		return err
	}

	settingPath := filepath.Join(opts.Root, "config", "setting.ini")
	if err := writeFile(settingPath, settingTemplate(opts), opts.Force); err != nil {
		return err
	}

	envPath := filepath.Join(opts.Root, "config", opts.Environment, "credits.ini")
	if err := writeFile(envPath, creditsTemplate(opts), opts.Force); err != nil {
		return err
	}

	return nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.Driver) == "" {
		opts.Driver = "sqlite"
	}
	if strings.TrimSpace(opts.LedgerPath) == "" {
		opts.LedgerPath = config.DefaultLedgerPath()
	}
	if strings.TrimSpace(opts.GateMode) == "" {
		opts.GateMode = "check_then_deduct"
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func writeFile(path, contents string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# DUA credits settings
environment=%s
http_address=:8080
log_level=info
`, opts.Environment)
}

func creditsTemplate(opts InitOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Environment specific overrides for %s\n", opts.Environment)
	fmt.Fprintf(&b, "database_driver=%s\n", opts.Driver)
	if opts.Driver == "postgres" {
		fmt.Fprintf(&b, "database_dsn=%s\n", opts.DatabaseDSN)
	} else {
		fmt.Fprintf(&b, "ledger_path=%s\n", opts.LedgerPath)
	}
	fmt.Fprintf(&b, "gate_mode=%s\n", opts.GateMode)
	if opts.AdminEmail != "" {
		fmt.Fprintf(&b, "admin_emails=%s\n", opts.AdminEmail)
	}
	if opts.AuthSecret != "" {
		fmt.Fprintf(&b, "auth_secret=%s\n", opts.AuthSecret)
	}
	b.WriteString("# Dash '-' disables file output.\nlog_file=logs/creditsd.log\n")
	b.WriteString("fallback_adapter=loopback\n")
	return b.String()
}

// Validate ensures required fields are present without modifying files.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if opts.AdminEmail != "" && !strings.Contains(opts.AdminEmail, "@") {
		return errors.New("admin email must contain '@'")
	}
	switch opts.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(opts.DatabaseDSN) == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", opts.Driver)
	}
	if opts.Environment != "dev" && opts.AuthSecret == "" {
		return fmt.Errorf("auth secret is required for environment %s", opts.Environment)
	}
	return nil
}
