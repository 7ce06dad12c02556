package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/config"
	"github.com/modelinterop/kerasbridge/pkg/receipt"
	"github.com/modelinterop/kerasbridge/pkg/registry"
	"github.com/modelinterop/kerasbridge/pkg/storage"
)

type initOptions struct {
	dir         string
	issuer      string
	dbPath      string
	storagePath string
	force       bool
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a kerasbridge workspace",
		Long: `Initialize a kerasbridge workspace.

This command creates:
  - A new ES256 key pair for signing run receipts
  - An SQLite registry for run history
  - A storage directory for reports and receipts
  - A configuration file (kerasbridge.yaml)

Example:
  kerasbridge init --issuer ci.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", ".", "directory to initialize the workspace in")
	cmd.Flags().StringVar(&opts.issuer, "issuer", "kerasbridge", "issuer recorded in signed receipts")
	cmd.Flags().StringVar(&opts.dbPath, "db", "kerasbridge.db", "path to SQLite registry file")
	cmd.Flags().StringVar(&opts.storagePath, "storage", "./storage", "path to storage directory")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite existing files")

	return cmd
}

func runInit(opts *initOptions) error {
	if err := os.MkdirAll(opts.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	dbPath := filepath.Join(opts.dir, opts.dbPath)
	if _, err := os.Stat(dbPath); err == nil && !opts.force {
		return fmt.Errorf("workspace already initialized (use --force to overwrite)")
	}

	if verbose {
		fmt.Println("Generating ES256 key pair...")
	}
	keyPair, err := receipt.GenerateES256KeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate key pair: %w", err)
	}

	privateKeyPath := filepath.Join(opts.dir, "receipt-key.pem")
	publicKeyPath := filepath.Join(opts.dir, "receipt-key.pub")
	if err := receipt.SaveKeyPair(keyPair, privateKeyPath, publicKeyPath); err != nil {
		return err
	}

	if verbose {
		fmt.Println("Initializing registry...")
	}
	db, err := registry.Open(registry.Options{
		Path:        dbPath,
		EnableWAL:   true,
		BusyTimeout: 5000,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	db.Close()

	if verbose {
		fmt.Println("Initializing storage...")
	}
	storagePath := filepath.Join(opts.dir, opts.storagePath)
	if _, err := storage.NewLocalStore(storagePath); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if verbose {
		fmt.Println("Creating configuration file...")
	}
	workspaceCfg := config.DefaultConfig()
	workspaceCfg.Issuer = opts.issuer
	workspaceCfg.Registry.Path = opts.dbPath
	workspaceCfg.Storage.Path = opts.storagePath
	workspaceCfg.Keys.Private = "receipt-key.pem"
	workspaceCfg.Keys.Public = "receipt-key.pub"

	configPath := filepath.Join(opts.dir, "kerasbridge.yaml")
	if err := config.SaveConfig(workspaceCfg, configPath); err != nil {
		return err
	}

	fmt.Println("kerasbridge workspace initialized")
	fmt.Printf("\nConfiguration:\n")
	fmt.Printf("  Issuer:      %s\n", opts.issuer)
	fmt.Printf("  Registry:    %s\n", dbPath)
	fmt.Printf("  Storage:     %s\n", storagePath)
	fmt.Printf("  Private Key: %s\n", privateKeyPath)
	fmt.Printf("  Public Key:  %s\n", publicKeyPath)
	fmt.Printf("  Config:      %s\n", configPath)
	fmt.Printf("\nTo export and verify the model set, run:\n")
	fmt.Printf("  kerasbridge verify --export --config %s\n", configPath)

	return nil
}
