package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowdrop/flowdrop/internal/cli/prompt"
	"github.com/flowdrop/flowdrop/pkg/config"
)

var (
	initForce         bool
	initAdminPassword string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a flowdrop configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/flowdrop/config.yaml. Use --config to specify a custom
path.

A random JWT secret is generated, and you are prompted for the master
account password (stored as a bcrypt hash).

Examples:
  # Initialize with default location
  flowdrop init

  # Initialize with custom path
  flowdrop init --config /etc/flowdrop/config.yaml

  # Force overwrite existing config
  flowdrop init --force

  # Non-interactive (for scripts)
  flowdrop init --admin-password "$ADMIN_PASSWORD"`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().StringVar(&initAdminPassword, "admin-password", "", "Master account password (prompts if not provided)")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()

	secret, err := generateJWTSecret()
	if err != nil {
		return fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret

	password := initAdminPassword
	if password == "" {
		password, err = prompt.PasswordWithValidation("Master account password", 8)
		if err != nil {
			return err
		}
		confirmed, err := prompt.Password("Confirm password")
		if err != nil {
			return err
		}
		if confirmed != password {
			return prompt.ErrPasswordMismatch
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cfg.Admin.PasswordHash = string(hash)

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: flowdrop start")
	fmt.Printf("  3. Or specify custom config: flowdrop start --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  A random JWT secret has been generated for development use.")
	fmt.Println("  For production, manage the secret via an environment variable:")
	fmt.Println("    export FLOWDROP_AUTH_JWT_SECRET=$(openssl rand -hex 32)")

	return nil
}

// generateJWTSecret returns 32 bytes of entropy as a 64-character hex
// string.
func generateJWTSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
