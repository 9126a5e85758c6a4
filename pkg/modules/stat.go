package modules

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
)

// runStat reports facts about a path without changing anything.
func runStat(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	target := stringArg(args, "path")
	if target == "" {
		return failed("path is required"), nil
	}
	follow, err := boolArg(args, "follow", false)
	if err != nil {
		return Result{}, err
	}
	getChecksum, err := boolArg(args, "get_checksum", true)
	if err != nil {
		return Result{}, err
	}

	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	info, err := conn.Stat(target, follow)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Status: StatusOK, Data: map[string]interface{}{
				"stat": map[string]interface{}{"exists": false},
			}}, nil
		}
		return Result{}, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	stat := map[string]interface{}{
		"exists": true,
		"path":   target,
		"mode":   fmt.Sprintf("%04o", info.Mode().Perm()),
		"isdir":  info.IsDir(),
		"isreg":  info.Mode().IsRegular(),
		"islnk":  info.Mode()&os.ModeSymlink != 0,
		"size":   info.Size(),
		"mtime":  float64(info.ModTime().UnixNano()) / 1e9,
	}
	if getChecksum && info.Mode().IsRegular() {
		data, err := conn.ReadFile(target)
		if err != nil {
			return Result{}, fmt.Errorf("failed to read %s for checksum: %w", target, err)
		}
		sum := sha1.Sum(data)
		stat["checksum"] = hex.EncodeToString(sum[:])
	}
	return Result{Status: StatusOK, Data: map[string]interface{}{"stat": stat}}, nil
}
