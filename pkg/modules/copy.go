package modules

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// runCopy writes content or a controller-side src file to dest on the host.
func runCopy(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	dest := stringArg(args, "dest")
	if dest == "" {
		return failed("dest is required"), nil
	}

	var content []byte
	name := ""
	if raw, hasContent := args["content"]; hasContent {
		content = []byte(fmt.Sprint(raw))
	} else if src := stringArg(args, "src"); src != "" {
		srcPath, err := findControllerFile(c.Dir, "files", src)
		if err != nil {
			return failed("%v", err), nil
		}
		content, err = os.ReadFile(srcPath)
		if err != nil {
			return failed("failed to read %s: %v", srcPath, err), nil
		}
		name = filepath.Base(srcPath)
	} else {
		return failed("src (or content) is required"), nil
	}

	return writeContent(c, args, dest, name, content)
}

// writeContent converges dest to content and mode. When dest is an existing
// directory and name is set, the file is written inside it.
func writeContent(c *Context, args map[string]interface{}, dest, name string, content []byte) (Result, error) {
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	force, err := boolArg(args, "force", true)
	if err != nil {
		return Result{}, err
	}
	mode := modeArg(args)
	var perm os.FileMode
	if mode != "" {
		if perm, err = parseMode(mode); err != nil {
			return failed("%v", err), nil
		}
	}

	info, statErr := conn.Stat(dest, true)
	if statErr == nil && info.IsDir() {
		if name == "" {
			return failed("dest %s is a directory", dest), nil
		}
		dest = path.Join(dest, name)
		info, statErr = conn.Stat(dest, true)
	}
	exists := statErr == nil

	var before []byte
	if exists {
		if before, err = conn.ReadFile(dest); err != nil {
			return Result{}, fmt.Errorf("failed to read %s: %w", dest, err)
		}
	}

	contentChanged := !exists || (force && !bytes.Equal(before, content))
	modeChanged := exists && mode != "" && info.Mode().Perm() != perm

	sum := sha1.Sum(content)
	result := changed(contentChanged || modeChanged)
	result.Data = map[string]interface{}{
		"dest":     dest,
		"checksum": hex.EncodeToString(sum[:]),
		"size":     len(content),
	}
	if mode != "" {
		result.Data["mode"] = mode
	}
	if c.Diff && contentChanged {
		result.Diff = &Diff{Path: dest, Before: string(before), After: string(content)}
	}
	if !result.Changed() || c.Check {
		return result, nil
	}

	if contentChanged {
		writePerm := perm
		if mode == "" {
			writePerm = 0644
			if exists {
				writePerm = info.Mode().Perm()
			}
		}
		if err := conn.WriteFile(dest, content, writePerm); err != nil {
			return Result{}, fmt.Errorf("failed to write to file %s: %w", dest, err)
		}
	} else if err := conn.SetFileMode(dest, mode); err != nil {
		return Result{}, err
	}
	return result, nil
}

func parseMode(mode string) (os.FileMode, error) {
	var perm uint32
	if _, err := fmt.Sscanf(mode, "%o", &perm); err != nil || perm > 07777 {
		return 0, fmt.Errorf("invalid mode %q: only octal modes are supported", mode)
	}
	return os.FileMode(perm), nil
}
