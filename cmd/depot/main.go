package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"depot-go/internal/app"
	"depot-go/internal/config"
	"depot-go/internal/depot"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a DepotApp. The caller must defer
// app.Close(). operation identifies the CLI command being run.
func newApp(cmd *cobra.Command, operation string) (*app.DepotApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	passphrase := ""
	if unlock, _ := cmd.Flags().GetBool("unlock"); unlock {
		passphrase, err = readPassphrase("Passphrase: ")
		if err != nil {
			return nil, err
		}
	}

	a, err := app.NewDepotApp(cfg, operation, passphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on stderr and reads without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(data), nil
}

func principal(cmd *cobra.Command) string {
	p, _ := cmd.Flags().GetString("principal")
	return p
}

// parseUntil turns the --until flag into a purge horizon. An empty flag
// means no horizon; "now" purges everything up to the present.
func parseUntil(cmd *cobra.Command) (time.Time, error) {
	raw, _ := cmd.Flags().GetString("until")
	if raw == "" {
		return time.Time{}, nil
	}
	if raw == "now" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --until: %w", err)
	}
	return t, nil
}

// parseKeyValues turns key=value args into a map.
func parseKeyValues(args []string) (map[string]string, error) {
	m := map[string]string{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		m[key] = value
	}
	return m, nil
}

var rootCmd = &cobra.Command{
	Use:   "depot",
	Short: "Deduplicating object storage engine",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Block Store: %s\n", cfg.BlockStore.Type)
		return nil
	},
}

// keys command

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the at-rest encryption key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the block encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "KeysInit")
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Encryptor().IsConfigured() {
			return fmt.Errorf("key pair already exists")
		}

		passphrase, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.Encryptor().Setup(passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Key pair generated.")
		return nil
	},
}

// account command

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListAccounts")
		if err != nil {
			return err
		}
		defer a.Close()

		accounts, err := a.Backend().ListAccounts(context.Background(), "", 0)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			fmt.Println(acct)
		}
		return nil
	},
}

var accountStatCmd = &cobra.Command{
	Use:   "stat ACCOUNT",
	Short: "Show account metadata and usage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetAccountMeta")
		if err != nil {
			return err
		}
		defer a.Close()

		meta, stats, err := a.Backend().GetAccountMeta(context.Background(),
			principal(cmd), args[0], "", time.Time{})
		if err != nil {
			return err
		}
		printStats(stats)
		printMeta(meta)
		return nil
	},
}

// container command

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage containers",
}

var containerCreateCmd = &cobra.Command{
	Use:   "create ACCOUNT CONTAINER",
	Short: "Create a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "PutContainer")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Backend().PutContainer(context.Background(),
			principal(cmd), args[0], args[1], nil); err != nil {
			return err
		}
		fmt.Printf("Created %s/%s\n", args[0], args[1])
		return nil
	},
}

var containerListCmd = &cobra.Command{
	Use:   "list ACCOUNT",
	Short: "List containers of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListContainers")
		if err != nil {
			return err
		}
		defer a.Close()

		containers, err := a.Backend().ListContainers(context.Background(),
			principal(cmd), args[0], "", 0)
		if err != nil {
			return err
		}
		for _, c := range containers {
			fmt.Println(c)
		}
		return nil
	},
}

var containerStatCmd = &cobra.Command{
	Use:   "stat ACCOUNT CONTAINER",
	Short: "Show container metadata and usage",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetContainerMeta")
		if err != nil {
			return err
		}
		defer a.Close()

		meta, stats, err := a.Backend().GetContainerMeta(context.Background(),
			principal(cmd), args[0], args[1], "", time.Time{})
		if err != nil {
			return err
		}
		printStats(stats)
		printMeta(meta)
		return nil
	},
}

var containerDeleteCmd = &cobra.Command{
	Use:   "delete ACCOUNT CONTAINER",
	Short: "Delete a container (or purge its history with --until)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		until, err := parseUntil(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeleteContainer")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Backend().DeleteContainer(context.Background(),
			principal(cmd), args[0], args[1], until)
	},
}

// object commands

var putCmd = &cobra.Command{
	Use:   "put ACCOUNT CONTAINER NAME [FILE]",
	Short: "Store an object (from FILE or stdin)",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		contentType, _ := cmd.Flags().GetString("content-type")

		src := os.Stdin
		if len(args) == 4 {
			f, err := os.Open(args[3])
			if err != nil {
				return fmt.Errorf("opening input: %w", err)
			}
			defer f.Close()
			src = f
		}

		a, err := newApp(cmd, "PutObject")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.PutObject(context.Background(), principal(cmd),
			args[0], args[1], args[2], contentType, src)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s/%s/%s (version %d, %d bytes)\n",
			args[0], args[1], args[2], v.Serial, v.Size)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get ACCOUNT CONTAINER NAME",
	Short: "Retrieve an object to stdout",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt64("version")

		a, err := newApp(cmd, "GetObject")
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.GetObject(context.Background(), principal(cmd),
			args[0], args[1], args[2], version, os.Stdout)
		return err
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ACCOUNT CONTAINER NAME",
	Short: "Delete an object (or purge its history with --until)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		until, err := parseUntil(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "DeleteObject")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.DeleteObject(context.Background(), principal(cmd),
			args[0], args[1], args[2], until)
	},
}

var listCmd = &cobra.Command{
	Use:   "list ACCOUNT CONTAINER",
	Short: "List objects in a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		delimiter, _ := cmd.Flags().GetString("delimiter")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "ListObjects")
		if err != nil {
			return err
		}
		defer a.Close()

		opt := depot.ListOptions{Prefix: prefix, Delimiter: delimiter, Limit: limit}
		entries, prefixes, err := a.ListObjects(context.Background(),
			principal(cmd), args[0], args[1], opt)
		if err != nil {
			return err
		}
		for _, p := range prefixes {
			fmt.Printf("%s%s\n", p, delimiter)
		}
		for _, e := range entries {
			fmt.Printf("%s\t%d\t%s\n", e.Name, e.Version.Size,
				e.Version.MTime.Format(time.RFC3339))
		}
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat ACCOUNT CONTAINER NAME",
	Short: "Show object metadata",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetInt64("version")

		a, err := newApp(cmd, "GetObjectMeta")
		if err != nil {
			return err
		}
		defer a.Close()

		v, meta, err := a.Backend().GetObjectMeta(context.Background(),
			principal(cmd), args[0], args[1], args[2], "", version)
		if err != nil {
			return err
		}
		fmt.Printf("Version:      %d\n", v.Serial)
		fmt.Printf("Size:         %d\n", v.Size)
		fmt.Printf("Hash:         %s\n", v.Hash)
		fmt.Printf("Content-Type: %s\n", v.ContentType)
		fmt.Printf("Modified:     %s by %s\n", v.MTime.Format(time.RFC3339), v.ModifiedBy)
		fmt.Printf("UUID:         %s\n", v.UUID)
		printMeta(meta)
		return nil
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions ACCOUNT CONTAINER NAME",
	Short: "List all versions of an object",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListObjectVersions")
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.Backend().ListObjectVersions(context.Background(),
			principal(cmd), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%d\t%-7s\t%d\t%s\n", v.Serial, v.Cluster, v.Size,
				v.MTime.Format(time.RFC3339))
		}
		return nil
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy SRC_ACCOUNT SRC_CONTAINER SRC_NAME DST_ACCOUNT DST_CONTAINER DST_NAME",
	Short: "Copy an object without moving block data",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "CopyObject")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Backend().CopyObject(context.Background(), principal(cmd),
			args[0], args[1], args[2], args[3], args[4], args[5], 0, "", "", nil, false, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Copied to %s/%s/%s (version %d)\n", args[3], args[4], args[5], v.Serial)
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move SRC_ACCOUNT SRC_CONTAINER SRC_NAME DST_ACCOUNT DST_CONTAINER DST_NAME",
	Short: "Move an object",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "MoveObject")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Backend().MoveObject(context.Background(), principal(cmd),
			args[0], args[1], args[2], args[3], args[4], args[5], "", "", nil, false, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Moved to %s/%s/%s (version %d)\n", args[3], args[4], args[5], v.Serial)
		return nil
	},
}

// policy command

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage container policy",
}

var policyGetCmd = &cobra.Command{
	Use:   "get ACCOUNT CONTAINER",
	Short: "Show container policy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetContainerPolicy")
		if err != nil {
			return err
		}
		defer a.Close()

		policy, err := a.Backend().GetContainerPolicy(context.Background(),
			principal(cmd), args[0], args[1])
		if err != nil {
			return err
		}
		for k, v := range policy {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set ACCOUNT CONTAINER KEY=VALUE...",
	Short: "Set container policy entries",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := parseKeyValues(args[2:])
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "UpdateContainerPolicy")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Backend().UpdateContainerPolicy(context.Background(),
			principal(cmd), args[0], args[1], policy, false)
	},
}

// perms command

var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "Manage container and object permissions",
}

var permsGetCmd = &cobra.Command{
	Use:   "get ACCOUNT CONTAINER [NAME]",
	Short: "Show the effective permissions of a container or object",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "GetPermissions")
		if err != nil {
			return err
		}
		defer a.Close()

		var source string
		var perms *depot.Permissions
		if len(args) == 3 {
			source, perms, err = a.Backend().GetObjectPermissions(context.Background(),
				principal(cmd), args[0], args[1], args[2])
		} else {
			source, perms, err = a.Backend().GetContainerPermissions(context.Background(),
				principal(cmd), args[0], args[1])
		}
		if err != nil {
			return err
		}
		if perms.IsEmpty() {
			fmt.Println("No explicit grants.")
			return nil
		}
		fmt.Printf("Inherited from: %s\n", source)
		fmt.Printf("Read:  %s\n", strings.Join(perms.Read, ", "))
		fmt.Printf("Write: %s\n", strings.Join(perms.Write, ", "))
		return nil
	},
}

var permsSetCmd = &cobra.Command{
	Use:   "set ACCOUNT CONTAINER [NAME]",
	Short: "Replace the explicit grants of a container or object",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		read, _ := cmd.Flags().GetStringSlice("read")
		write, _ := cmd.Flags().GetStringSlice("write")

		a, err := newApp(cmd, "UpdatePermissions")
		if err != nil {
			return err
		}
		defer a.Close()

		perms := &depot.Permissions{Read: read, Write: write}
		if len(args) == 3 {
			return a.Backend().UpdateObjectPermissions(context.Background(),
				principal(cmd), args[0], args[1], args[2], perms)
		}
		return a.Backend().UpdateContainerPermissions(context.Background(),
			principal(cmd), args[0], args[1], perms)
	},
}

// public command

var publicCmd = &cobra.Command{
	Use:   "public",
	Short: "Manage anonymous publication tokens",
}

var publicOnCmd = &cobra.Command{
	Use:   "on ACCOUNT CONTAINER NAME",
	Short: "Publish an object and print its token",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UpdateObjectPublic")
		if err != nil {
			return err
		}
		defer a.Close()

		token, err := a.Backend().UpdateObjectPublic(context.Background(),
			principal(cmd), args[0], args[1], args[2], true)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var publicOffCmd = &cobra.Command{
	Use:   "off ACCOUNT CONTAINER NAME",
	Short: "Withdraw an object's publication",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "UpdateObjectPublic")
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.Backend().UpdateObjectPublic(context.Background(),
			principal(cmd), args[0], args[1], args[2], false)
		return err
	},
}

var publicResolveCmd = &cobra.Command{
	Use:   "resolve TOKEN",
	Short: "Resolve a publication token to its object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "PublicPath")
		if err != nil {
			return err
		}
		defer a.Close()

		account, container, name, err := a.Backend().PublicPath(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s/%s/%s\n", account, container, name)
		return nil
	},
}

// db command

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup DEST",
	Short: "Snapshot the metadata database to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "BackupDatabase")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupDatabase(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database backed up to %s\n", args[0])
		return nil
	},
}

func printStats(stats *depot.Statistics) {
	fmt.Printf("Objects: %d\n", stats.Population)
	fmt.Printf("Bytes:   %d\n", stats.Size)
	if !stats.MTime.IsZero() {
		fmt.Printf("MTime:   %s\n", stats.MTime.Format(time.RFC3339))
	}
}

func printMeta(meta map[string]string) {
	for k, v := range meta {
		fmt.Printf("%s: %s\n", k, v)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("principal", "u", "", "Acting user")
	rootCmd.PersistentFlags().Bool("unlock", false, "Prompt for the encryption passphrase")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountStatCmd)

	containerCmd.AddCommand(containerCreateCmd)
	containerCmd.AddCommand(containerListCmd)
	containerCmd.AddCommand(containerStatCmd)
	containerCmd.AddCommand(containerDeleteCmd)
	containerDeleteCmd.Flags().String("until", "", "Purge history older than this RFC3339 time (or \"now\")")

	putCmd.Flags().String("content-type", "", "Content type of the object")
	getCmd.Flags().Int64("version", 0, "Version serial (0 = current)")
	statCmd.Flags().Int64("version", 0, "Version serial (0 = current)")
	deleteCmd.Flags().String("until", "", "Purge history older than this RFC3339 time (or \"now\")")
	listCmd.Flags().String("prefix", "", "Only names with this prefix")
	listCmd.Flags().String("delimiter", "", "Collapse names at this delimiter")
	listCmd.Flags().IntP("limit", "n", 0, "Maximum entries to return")

	permsSetCmd.Flags().StringSlice("read", nil, "Principals granted read")
	permsSetCmd.Flags().StringSlice("write", nil, "Principals granted write")

	policyCmd.AddCommand(policyGetCmd)
	policyCmd.AddCommand(policySetCmd)
	permsCmd.AddCommand(permsGetCmd)
	permsCmd.AddCommand(permsSetCmd)
	publicCmd.AddCommand(publicOnCmd)
	publicCmd.AddCommand(publicOffCmd)
	publicCmd.AddCommand(publicResolveCmd)
	dbCmd.AddCommand(dbBackupCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(permsCmd)
	rootCmd.AddCommand(publicCmd)
	rootCmd.AddCommand(dbCmd)
}
