package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/axcrypt/internal/crypto"
	"github.com/TheMichaelB/axcrypt/internal/services/files"
	"github.com/TheMichaelB/axcrypt/internal/services/worker"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <file>...",
	Short: "Encrypt files and wipe the plaintext",
	Long: `Encrypt writes <name>-<ext>.axx next to each file, securely wipes the
plaintext and remembers the file in the session. Use --keep to leave the
plaintext in place.`,
	Example: `  axcrypt encrypt report.txt
  axcrypt encrypt *.pdf --keep --no-compress`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncrypt,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file>...",
	Short: "Decrypt files into a folder",
	Example: `  axcrypt decrypt report-txt.axx --dest ./out`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDecrypt,
}

var wipeCmd = &cobra.Command{
	Use:   "wipe <file>...",
	Short: "Overwrite, rename and delete files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWipe,
}

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show the header of an encrypted file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var (
	passphraseFlag string
	encryptKeep    bool
	noCompress     bool
	idTag          string
	decryptDest    string
)

func init() {
	rootCmd.AddCommand(encryptCmd, decryptCmd, wipeCmd, infoCmd)

	for _, cmd := range []*cobra.Command{encryptCmd, decryptCmd, infoCmd} {
		cmd.Flags().StringVarP(&passphraseFlag, "passphrase", "p", "",
			"Passphrase (reads "+PassphraseEnv+" or prompts if not provided)")
	}

	encryptCmd.Flags().BoolVarP(&encryptKeep, "keep", "k", false,
		"Keep the plaintext and do not track the file in the session")
	encryptCmd.Flags().BoolVar(&noCompress, "no-compress", false,
		"Store the plaintext without compression")
	encryptCmd.Flags().StringVar(&idTag, "id-tag", "",
		"Identification tag stored in the header")

	decryptCmd.Flags().StringVarP(&decryptDest, "dest", "d", ".",
		"Destination folder")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	key, err := readKey(passphraseFlag, true)
	if err != nil {
		return err
	}

	compress := cfg.Crypto.Compress && !noCompress
	a, err := openApp(appOptions{compress: &compress, idTag: idTag})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	outputs := &outputSet{}
	jobs := make([]worker.Job, 0, len(paths))
	for _, p := range paths {
		p := p
		dest := files.EncryptedName(p)
		jobs = append(jobs, worker.Job{
			Name:  p,
			Paths: []string{p, dest},
			Run: func(ctx context.Context) error {
				if encryptKeep {
					opts := files.EncryptOptions{WithCompression: compress, WithoutCompression: !compress, IdTag: idTag}
					if err := a.files.Encrypt(ctx, p, dest, key, opts); err != nil {
						return err
					}
					outputs.set(p, dest)
					return nil
				}
				out, err := a.session.EncryptFile(ctx, p, key)
				if err != nil {
					return err
				}
				outputs.set(p, out)
				return nil
			},
		})
	}

	results, err := a.runBatch(ctx, "encrypt", jobs, outputs)
	return reportBatch("Encrypted", results, err)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(decryptDest)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	key, err := readKey(passphraseFlag, false)
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

	outputs := &outputSet{}
	jobs := make([]worker.Job, 0, len(paths))
	for _, p := range paths {
		p := p
		// two sources may decrypt to the same name; lock the target too
		target, err := a.files.DecryptedPath(p, dest, key)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		jobs = append(jobs, worker.Job{
			Name:  p,
			Paths: []string{p, target},
			Run: func(ctx context.Context) error {
				out, err := a.files.Decrypt(ctx, p, dest, key, nil)
				if err != nil {
					return err
				}
				outputs.set(p, out)
				return nil
			},
		})
	}

	results, err := a.runBatch(ctx, "decrypt", jobs, outputs)
	return reportBatch("Decrypted", results, err)
}

func runWipe(cmd *cobra.Command, args []string) error {
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

	jobs := make([]worker.Job, 0, len(paths))
	for _, p := range paths {
		p := p
		jobs = append(jobs, worker.Job{
			Name:  p,
			Paths: []string{p},
			Run: func(ctx context.Context) error {
				return a.files.Wipe(ctx, p, nil)
			},
		})
	}

	results, err := a.runBatch(ctx, "wipe", jobs, &outputSet{})
	return reportBatch("Wiped", results, err)
}

func runInfo(cmd *cobra.Command, args []string) error {
	paths, err := absPaths(args)
	if err != nil {
		return err
	}
	key, err := readKey(passphraseFlag, false)
	if err != nil {
		return err
	}

	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.files.Inspect(paths[0], key)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(info)
		return nil
	}

	fmt.Printf("File:        %s\n", paths[0])
	fmt.Printf("Name:        %s\n", info.FileName)
	fmt.Printf("Version:     %d (writer %s)\n", info.FileVersion, info.WriterVersion)
	fmt.Printf("Compressed:  %t\n", info.Compressed)
	fmt.Printf("Plaintext:   %s\n", formatBytes(info.PlaintextLength))
	fmt.Printf("Ciphertext:  %s\n", formatBytes(info.CipherTextLength))
	fmt.Printf("Iterations:  %d\n", info.KeyWrapIterations)
	fmt.Printf("Created:     %s\n", info.Created.Local().Format(time.RFC3339))
	fmt.Printf("Modified:    %s\n", info.LastWritten.Local().Format(time.RFC3339))
	if info.IdTag != "" {
		fmt.Printf("Id tag:      %s\n", info.IdTag)
	}
	return nil
}

func reportBatch(verb string, results []batchResult, err error) error {
	if jsonOutput {
		printJSON(map[string]interface{}{
			"success": err == nil,
			"results": results,
		})
		return reported(err)
	}

	ok := 0
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		ok++
		if r.Output != "" {
			printInfo("  %s -> %s", r.Name, r.Output)
		}
	}
	if ok > 0 {
		printSuccess("%s %d file(s)", verb, ok)
	}
	return err
}

// addSessionKey remembers a passphrase for the session when one is given
// or required.
func addSessionKey(a *app, flagValue string, required bool) (crypto.AesKey, error) {
	if flagValue == "" && os.Getenv(PassphraseEnv) == "" && !required {
		return crypto.AesKey{}, nil
	}
	key, err := readKey(flagValue, false)
	if err != nil {
		return crypto.AesKey{}, err
	}
	if _, err := a.session.Keys().Add(key); err != nil {
		return crypto.AesKey{}, err
	}
	return key, nil
}
