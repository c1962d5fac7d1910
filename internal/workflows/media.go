package workflows

import (
	"context"
	"fmt"
	"os"

	"github.com/PolarWolf314/muna/internal/audit"
	"github.com/PolarWolf314/muna/internal/envelope"
	"github.com/PolarWolf314/muna/internal/utils"
)

// MediaOptions configures EncryptMedia and DecryptMedia.
type MediaOptions struct {
	// FilePatterns are paths, directories or ** globs.
	FilePatterns []string
	// BaseDir resolves relative patterns; empty means the working directory.
	BaseDir string
	// Recipient is the user ID to encrypt for; empty means this user.
	Recipient string
	// Force overwrites existing output files.
	Force bool
	// DryRun lists what would be written without touching files.
	DryRun bool
}

// MediaResult pairs each source file with the file written for it.
type MediaResult struct {
	SourceFiles []string
	OutputFiles []string
	DryRun      bool
}

// EncryptMedia encrypts each matching file into a binary envelope written
// next to it with the .muna extension.
//
// Returns ErrNoFilesFound if nothing matches.
// Returns ErrRecipientKeyUnavailable if the recipient has no published key.
func EncryptMedia(ctx context.Context, env *Env, opts MediaOptions) (*MediaResult, error) {
	files, err := resolveMedia(opts, true)
	if err != nil {
		return nil, err
	}

	recipient := opts.Recipient
	if recipient == "" {
		recipient = env.Config.User.ID
	}

	result := &MediaResult{SourceFiles: files, DryRun: opts.DryRun}
	for _, f := range files {
		result.OutputFiles = append(result.OutputFiles, utils.EncryptedPath(f))
	}
	if opts.DryRun {
		return result, nil
	}

	// The recipient is resolved once for all files.
	key, err := env.Cipher.RecipientKey(ctx, recipient)
	if err != nil {
		return nil, err
	}

	for i, src := range files {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		enc, err := env.Cipher.EncryptBytes(data, key.PublicKey, key.Version)
		if err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", src, err)
		}
		out, err := envelope.Marshal(enc)
		if err != nil {
			return nil, err
		}
		if err := writeOutput(result.OutputFiles[i], out, opts.Force); err != nil {
			return nil, err
		}
		env.Log.Debugf("encrypted %s for %s (key version %d)", src, recipient, key.Version)
	}

	entry := audit.LogWithUser(audit.OpMediaEncrypt)
	entry.Files = result.OutputFiles
	entry.Version = key.Version
	audit.Log(entry)

	return result, nil
}

// DecryptMedia decrypts .muna files back to their original names.
//
// Returns ErrKeyVersionMissing if a file references a key version not held locally.
// Returns ErrTamperOrCorruption if a file fails authentication; nothing is
// written for that file.
func DecryptMedia(ctx context.Context, env *Env, opts MediaOptions) (*MediaResult, error) {
	files, err := resolveMedia(opts, false)
	if err != nil {
		return nil, err
	}

	result := &MediaResult{SourceFiles: files, DryRun: opts.DryRun}
	for _, f := range files {
		result.OutputFiles = append(result.OutputFiles, utils.DecryptedPath(f))
	}
	if opts.DryRun {
		return result, nil
	}

	for i, src := range files {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		enc, err := envelope.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		plaintext, err := env.Cipher.DecryptBytes(ctx, enc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		if err := writeOutput(result.OutputFiles[i], plaintext, opts.Force); err != nil {
			return nil, err
		}
	}

	entry := audit.LogWithUser(audit.OpMediaDecrypt)
	entry.Files = result.SourceFiles
	audit.Log(entry)

	return result, nil
}

func resolveMedia(opts MediaOptions, forEncryption bool) ([]string, error) {
	base := opts.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		base = wd
	}
	return utils.ResolveFiles(opts.FilePatterns, base, forEncryption)
}

func writeOutput(path string, data []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0600)
	if os.IsExist(err) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
