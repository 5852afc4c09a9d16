package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowdrop/flowdrop/internal/cli/output"
	"github.com/flowdrop/flowdrop/internal/cli/prompt"
	"github.com/flowdrop/flowdrop/pkg/config"
	"github.com/flowdrop/flowdrop/pkg/protocol"
	"github.com/flowdrop/flowdrop/pkg/store"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long: `Manage user accounts in the flowdrop database.

User commands operate directly on the configured database, so they work
whether or not the server is running.`,
}

var userAddType string

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userDeleteForce bool

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserDelete,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all users",
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Long: `Change a user's password.

Changing the password also rotates the user's WebSocket token, so
connected clients must log in again.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserPasswd,
}

var userTypeCmd = &cobra.Command{
	Use:   "type <username> <usertype>",
	Short: "Change a user's rank",
	Long: fmt.Sprintf(`Change a user's rank.

The rank decides the storage quota and whether presence events broadcast
site-wide. Valid ranks: %s.`, userTypeNames()),
	Args: cobra.ExactArgs(2),
	RunE: runUserType,
}

func init() {
	userAddCmd.Flags().StringVar(&userAddType, "type", string(protocol.UserTypeUser), "User rank ("+userTypeNames()+")")
	userDeleteCmd.Flags().BoolVarP(&userDeleteForce, "force", "f", false, "Skip confirmation prompt")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userTypeCmd)
}

func userTypeNames() string {
	names := make([]string, 0, len(protocol.UserTypes))
	for _, t := range protocol.UserTypes {
		names = append(names, string(t))
	}
	return strings.Join(names, "|")
}

// openStore loads the configuration and opens the database it points
// at. The caller must Close the returned store.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}
	s, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	username := args[0]

	usertype, ok := protocol.ParseUserType(userAddType)
	if !ok {
		return fmt.Errorf("unknown user type %q (valid: %s)", userAddType, userTypeNames())
	}

	password, err := prompt.NewPassword()
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	user, err := s.CreateUser(context.Background(), username, password, usertype)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %q created with rank %s\n", user.Username, user.UserType)
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	username := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete user %q and keep their files on disk?", username), userDeleteForce)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.DeleteUser(context.Background(), username); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("User %q deleted\n", username)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found.")
		return nil
	}

	table := output.NewTableData("USERNAME", "RANK", "CREATED", "LAST LOGIN")
	for _, u := range users {
		lastLogin := "-"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format(time.RFC3339)
		}
		table.AddRow(u.Username, u.UserType, u.CreatedAt.Format(time.RFC3339), lastLogin)
	}
	table.Render(os.Stdout)
	return nil
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	username := args[0]

	password, err := prompt.NewPassword()
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.UpdatePassword(context.Background(), username, password); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}

	fmt.Printf("Password changed for %q\n", username)
	return nil
}

func runUserType(cmd *cobra.Command, args []string) error {
	username, typeArg := args[0], args[1]

	usertype, ok := protocol.ParseUserType(typeArg)
	if !ok {
		return fmt.Errorf("unknown user type %q (valid: %s)", typeArg, userTypeNames())
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if err := s.UpdateUserType(context.Background(), username, usertype); err != nil {
		return fmt.Errorf("failed to update user type: %w", err)
	}

	fmt.Printf("User %q is now %s\n", username, usertype)
	return nil
}
