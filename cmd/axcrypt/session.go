package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/axcrypt/internal/models"
	"github.com/TheMichaelB/axcrypt/internal/services/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage decrypted working copies",
	Long: `The session remembers every file opened or encrypted through axcrypt.
Decrypted working copies are re-encrypted when they change and wiped once
they are no longer in use.`,
}

var openCmd = &cobra.Command{
	Use:   "open <file>",
	Short: "Decrypt a file into a private working copy",
	Long: `Open decrypts a file into a private folder and records it in the session.
With --viewer the command stays in the foreground until the viewer exits and
then re-encrypts any changes. A viewer started by one axcrypt process is not
visible to another, so leave session.desktop off unless copies are opened
while a session monitor runs.`,
	Example: `  axcrypt open report-txt.axx
  axcrypt open report-txt.axx --viewer "xdg-open"`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active files and watched folders",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Re-encrypt modified copies and wipe idle ones",
	Args:  cobra.NoArgs,
	RunE:  runSessionCheck,
}

var sessionPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Wipe every decrypted copy that is not in use",
	Args:  cobra.NoArgs,
	RunE:  runSessionPurge,
}

var sessionRemoveCmd = &cobra.Command{
	Use:   "remove <file>",
	Short: "Forget a file, wiping its decrypted copy",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionRemove,
}

var sessionMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Reconcile the session periodically until interrupted",
	Long: `Monitor runs a reconciliation pass every check interval and purges
decrypted copies on exit.`,
	Args: cobra.NoArgs,
	RunE: runSessionMonitor,
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Manage watched folders",
}

var sessionWatchAddCmd = &cobra.Command{
	Use:   "add <folder>",
	Short: "Watch a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchAdd,
}

var sessionWatchRemoveCmd = &cobra.Command{
	Use:   "remove <folder>",
	Short: "Stop watching a folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatchRemove,
}

var (
	openViewer      string
	sessionPass     string
	monitorInterval time.Duration
)

func init() {
	rootCmd.AddCommand(openCmd, sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionCheckCmd, sessionPurgeCmd,
		sessionRemoveCmd, sessionMonitorCmd, sessionWatchCmd)
	sessionWatchCmd.AddCommand(sessionWatchAddCmd, sessionWatchRemoveCmd)

	openCmd.Flags().StringVarP(&sessionPass, "passphrase", "p", "",
		"Passphrase (reads "+PassphraseEnv+" or prompts if not provided)")
	openCmd.Flags().StringVar(&openViewer, "viewer", "",
		"Command that opens the decrypted copy; open waits for it to exit and then re-encrypts changes")

	for _, cmd := range []*cobra.Command{sessionCheckCmd, sessionPurgeCmd, sessionMonitorCmd} {
		cmd.Flags().StringVarP(&sessionPass, "passphrase", "p", "",
			"Passphrase needed to re-encrypt modified copies")
	}
	sessionMonitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0,
		"Check interval (defaults to session.check_interval)")
}

func runOpen(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}

	var launcher session.Launcher
	if l := newCommandLauncher(openViewer); l != nil {
		launcher = l
	}
	a, err := openApp(appOptions{launcher: launcher})
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := addSessionKey(a, sessionPass, true)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	af, err := a.session.OpenFile(ctx, paths[0], key)
	if err != nil {
		return err
	}

	// the viewer handle lives only in this process, so wait for it here
	if viewer, ok := af.Process().(*viewerProcess); ok {
		if !jsonOutput {
			printInfo("Decrypted to %s, waiting for the viewer to exit", af.DecryptedPath())
		}
		if err := viewer.Wait(ctx); err != nil {
			return err
		}
		if err := a.session.CheckActiveFiles(ctx); err != nil {
			return err
		}
		if current := a.state.FindEncrypted(af.EncryptedPath()); current != nil {
			af = current
		}
	}

	if jsonOutput {
		printJSON(activeFileView(af))
		return nil
	}
	if af.Status().Has(models.AssumedOpenAndDecrypted) {
		printSuccess("Decrypted to %s", af.DecryptedPath())
		printInfo("Run 'axcrypt session check' after editing to re-encrypt your changes.")
		return nil
	}
	printSuccess("Viewer closed, %s is encrypted", af.EncryptedPath())
	return nil
}

type activeFileJSON struct {
	Encrypted    string    `json:"encrypted"`
	Decrypted    string    `json:"decrypted"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
	Thumbprint   string    `json:"thumbprint,omitempty"`
}

func activeFileView(af *models.ActiveFile) activeFileJSON {
	v := activeFileJSON{
		Encrypted:    af.EncryptedPath(),
		Decrypted:    af.DecryptedPath(),
		Status:       af.Status().String(),
		LastActivity: af.LastActivity(),
	}
	if !af.Thumbprint().IsZero() {
		v.Thumbprint = af.Thumbprint().Short()
	}
	return v
}

func runSessionList(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	active := a.state.ActiveFiles()
	watched := a.state.WatchedFolders()

	if jsonOutput {
		views := make([]activeFileJSON, 0, len(active))
		for _, af := range active {
			views = append(views, activeFileView(af))
		}
		folders := make([]string, 0, len(watched))
		for _, w := range watched {
			folders = append(folders, w.Path())
		}
		printJSON(map[string]interface{}{
			"session":         sessionName,
			"active_files":    views,
			"watched_folders": folders,
		})
		return nil
	}

	if len(active) == 0 {
		printInfo("No active files")
	}
	for _, af := range active {
		status := af.Status().String()
		switch {
		case af.Status().Has(models.Error):
			status = errorColor.Sprint(status)
		case af.Status().Has(models.AssumedOpenAndDecrypted):
			status = warningColor.Sprint(status)
		}
		fmt.Printf("%s\n    %s  %s\n", af.EncryptedPath(), status, af.LastActivity().Local().Format(time.RFC3339))
		if af.Status().Has(models.AssumedOpenAndDecrypted) {
			fmt.Printf("    decrypted: %s\n", af.DecryptedPath())
		}
	}
	for _, w := range watched {
		fmt.Printf("watching %s\n", w.Path())
	}
	return nil
}

func runSessionCheck(cmd *cobra.Command, args []string) error {
	return runPass(false)
}

func runSessionPurge(cmd *cobra.Command, args []string) error {
	return runPass(true)
}

func runPass(purge bool) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := addSessionKey(a, sessionPass, false); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if purge {
		err = a.session.PurgeActiveFiles(ctx)
	} else {
		err = a.session.CheckActiveFiles(ctx)
	}
	if err != nil {
		return err
	}
	return summarize(a)
}

func summarize(a *app) error {
	var open, failed, busy int
	for _, af := range a.state.ActiveFiles() {
		st := af.Status()
		if st.Has(models.AssumedOpenAndDecrypted) {
			open++
		}
		if st.Has(models.NotShareable) {
			busy++
		}
		if st.Has(models.Error) {
			failed++
		}
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"success":   true,
			"decrypted": open,
			"in_use":    busy,
			"errors":    failed,
		})
		return nil
	}

	printSuccess("Session checked: %d decrypted, %d in use, %d with errors", open, busy, failed)
	return nil
}

func runSessionRemove(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := a.session.RemoveRecentFile(ctx, paths[0]); err != nil {
		return err
	}
	if !jsonOutput {
		printSuccess("Removed %s from the session", paths[0])
	}
	return nil
}

func runSessionMonitor(cmd *cobra.Command, args []string) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := addSessionKey(a, sessionPass, false); err != nil {
		return err
	}

	interval := monitorInterval
	if interval <= 0 {
		interval = cfg.Session.CheckInterval
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !jsonOutput {
		printInfo("Monitoring session %q every %s, press Ctrl+C to stop", sessionName, interval)
	}

	go func() {
		for c := range a.state.Changes() {
			logger.WithFields(map[string]interface{}{
				"kind":      string(c.Kind),
				"encrypted": c.EncryptedPath,
				"status":    c.Status.String(),
			}).Debug("Session changed")
			if c.Kind == session.ChangeKnownKey || c.Kind == session.ChangeWatchedFolder {
				a.session.Notify()
			}
		}
	}()

	if err := a.session.Run(ctx, interval, cfg.Session.IdleDelay); err != nil {
		return err
	}
	return summarize(a)
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	return changeWatched(args[0], true)
}

func runWatchRemove(cmd *cobra.Command, args []string) error {
	return changeWatched(args[0], false)
}

func changeWatched(folder string, add bool) error {
	p, err := filepath.Abs(folder)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", folder, err)
	}
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if add {
		err = a.session.AddWatchedFolder(p)
	} else {
		err = a.session.RemoveWatchedFolder(p)
	}
	if err != nil {
		return err
	}
	if !jsonOutput {
		if add {
			printSuccess("Watching %s", p)
		} else {
			printSuccess("No longer watching %s", p)
		}
	}
	return nil
}
