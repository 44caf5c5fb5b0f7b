package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YunoHost/cli/internal/config"
	"github.com/YunoHost/cli/internal/config/store"
	"github.com/YunoHost/cli/internal/session"
)

func newAuthCommand() *cobra.Command {
	authCmd := &cobra.Command{
		Use:           "auth",
		Short:         "Manage stored server profiles and their credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addCmd := &cobra.Command{
		Use:           "add",
		Short:         "Store a server profile after verifying its credentials",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          authAdd,
	}
	addCmd.Flags().String("host", "", "Server hostname (e.g. yuno.example.org)")
	addCmd.Flags().String("username", "admin", "Admin account to authenticate as")
	addCmd.Flags().String("password", "", "Admin password (prompted when omitted)")

	removeCmd := &cobra.Command{
		Use:           "remove",
		Short:         "Forget a stored server profile and its cached session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          authRemove,
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored server profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          authList,
	}

	testCmd := &cobra.Command{
		Use:           "test",
		Short:         "Verify that a stored profile can still log in",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          authTest,
	}

	authCmd.AddCommand(addCmd, removeCmd, listCmd, testCmd)
	return authCmd
}

func authAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	serverName, _ := cmd.Flags().GetString("server-name")
	insecure, _ := cmd.Flags().GetBool("insecure")

	host, _ := cmd.Flags().GetString("host")
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("--host is required")
	}
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		var err error
		password, err = promptPassword(fmt.Sprintf("Password for %s@%s: ", username, host))
		if err != nil {
			return err
		}
	}

	st, err := store.Open(store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	previous, prevErr := st.Server(ctx, serverName)
	hadPrevious := prevErr == nil
	if prevErr != nil && !store.IsNotFound(prevErr) {
		return prevErr
	}

	srv := store.Server{
		Name:          serverName,
		Host:          host,
		Username:      username,
		Password:      password,
		SkipTLSVerify: insecure,
	}
	if err := st.SaveServer(ctx, srv); err != nil {
		return err
	}

	// Verify the credentials with a forced login before declaring the
	// profile good. A failure rolls the store back to its prior state.
	sess, err := session.New(credentialsFor(srv), session.Options{ServerName: serverName})
	if err == nil {
		err = sess.Login(ctx, true)
	}
	if err == nil {
		err = sess.AssertMinVersion(ctx, minServerVersion)
	}
	if err != nil {
		var rollbackErr error
		if hadPrevious {
			rollbackErr = st.SaveServer(ctx, previous)
		} else {
			rollbackErr = st.RemoveServer(ctx, serverName)
		}
		if rollbackErr != nil {
			return fmt.Errorf("%w (and rolling back the profile failed: %v)", err, rollbackErr)
		}
		return err
	}

	fmt.Printf("Server '%s' (%s) saved\n", serverName, host)
	return nil
}

func authRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	serverName, _ := cmd.Flags().GetString("server-name")

	st, err := store.Open(store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RemoveServer(ctx, serverName); err != nil {
		return err
	}

	// Drop the cached session along with the profile.
	cookiePath := config.GetPaths().CookiePath(serverName)
	if err := os.Remove(cookiePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached session: %w", err)
	}

	fmt.Printf("Server '%s' removed\n", serverName)
	return nil
}

func authList(cmd *cobra.Command, args []string) error {
	st, err := store.Open(store.Options{})
	if err != nil {
		return err
	}
	defer st.Close()

	servers, err := st.Servers(context.Background())
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("No servers configured. Add one with 'ynh auth add --host <hostname>'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tHOST\tUSERNAME\tTLS VERIFY")
	for _, srv := range servers {
		verify := "yes"
		if srv.SkipTLSVerify {
			verify = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", srv.Name, srv.Host, srv.Username, verify)
	}
	return w.Flush()
}

func authTest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	serverName, _ := cmd.Flags().GetString("server-name")

	sess, _, err := openSession(cmd)
	if err != nil {
		return err
	}

	// Force a fresh login, a cached cookie would hide bad credentials.
	if err := sess.Login(ctx, true); err != nil {
		return err
	}
	if err := sess.AssertMinVersion(ctx, minServerVersion); err != nil {
		return err
	}

	fmt.Printf("Login to '%s' succeeded\n", serverName)
	return nil
}

// openSession resolves the selected server profile into an authenticated
// session manager. Nothing is sent on the wire yet.
func openSession(cmd *cobra.Command) (*session.Session, string, error) {
	serverName, _ := cmd.Flags().GetString("server-name")
	insecure, _ := cmd.Flags().GetBool("insecure")

	st, err := store.Open(store.Options{})
	if err != nil {
		return nil, "", err
	}
	defer st.Close()

	srv, err := st.Server(context.Background(), serverName)
	if store.IsNotFound(err) {
		return nil, "", fmt.Errorf("no server named %q is configured, run 'ynh auth add --host <hostname>' first", serverName)
	}
	if err != nil {
		return nil, "", err
	}

	creds := credentialsFor(srv)
	if insecure {
		creds.SkipTLSVerify = true
	}

	sess, err := session.New(creds, session.Options{ServerName: serverName})
	if err != nil {
		return nil, "", err
	}
	return sess, serverName, nil
}

func credentialsFor(srv store.Server) session.Credentials {
	return session.Credentials{
		Host:          srv.Host,
		Username:      srv.Username,
		Password:      srv.Password,
		SkipTLSVerify: srv.SkipTLSVerify,
	}
}
