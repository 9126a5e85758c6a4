package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

const factSeparator = "----converge----"

// gatherScript prints one section per fact source, separated by factSeparator.
var gatherScript = strings.Join([]string{
	"uname -s",
	"uname -r",
	"uname -m",
	"hostname",
	"hostname -f 2>/dev/null || hostname",
	"id -un",
	"cat /etc/os-release 2>/dev/null || true",
}, "; echo "+factSeparator+"; ")

var osFamilies = map[string]string{
	"debian":    "Debian",
	"ubuntu":    "Debian",
	"rhel":      "RedHat",
	"centos":    "RedHat",
	"fedora":    "RedHat",
	"rocky":     "RedHat",
	"almalinux": "RedHat",
	"amzn":      "RedHat",
	"arch":      "Archlinux",
	"manjaro":   "Archlinux",
	"alpine":    "Alpine",
	"suse":      "Suse",
	"opensuse":  "Suse",
	"sles":      "Suse",
	"gentoo":    "Gentoo",
}

// runSetup gathers basic facts about the host.
func runSetup(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	res, err := conn.ExecuteCommand(ctx, gatherScript, runtime.NewCommandOptions().WithShell())
	if err != nil {
		return Result{}, err
	}
	if res.ExitCode != 0 {
		return failed("fact gathering failed with exit code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)), nil
	}

	facts, err := parseFacts(res.Stdout)
	if err != nil {
		return Result{}, err
	}
	facts["inventory_hostname"] = c.Host.Name
	return Result{Status: StatusOK, Facts: facts}, nil
}

func parseFacts(out string) (map[string]interface{}, error) {
	sections := strings.Split(out, factSeparator+"\n")
	if len(sections) != 7 {
		return nil, fmt.Errorf("unexpected fact gathering output: %d sections", len(sections))
	}
	for i := range sections {
		sections[i] = strings.TrimSpace(sections[i])
	}

	system := sections[0]
	facts := map[string]interface{}{
		"ansible_system":       system,
		"ansible_kernel":       sections[1],
		"ansible_architecture": sections[2],
		"ansible_machine":      sections[2],
		"ansible_hostname":     strings.SplitN(sections[3], ".", 2)[0],
		"ansible_nodename":     sections[3],
		"ansible_fqdn":         sections[4],
		"ansible_user_id":      sections[5],
		"ansible_os_family":    system,
		"ansible_distribution": system,
	}

	release := parseOSRelease(sections[6])
	if id := release["ID"]; id != "" {
		facts["ansible_distribution"] = release["NAME"]
		if name := release["NAME"]; strings.Contains(name, " ") {
			facts["ansible_distribution"] = distributionName(id, name)
		}
		facts["ansible_distribution_version"] = release["VERSION_ID"]
		facts["ansible_distribution_major_version"] = strings.SplitN(release["VERSION_ID"], ".", 2)[0]
		facts["ansible_distribution_release"] = release["VERSION_CODENAME"]
		facts["ansible_os_family"] = osFamily(id, release["ID_LIKE"])
	}
	return facts, nil
}

func parseOSRelease(content string) map[string]string {
	release := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		release[key] = strings.Trim(value, `"'`)
	}
	return release
}

// distributionName shortens names like "Ubuntu 22.04 LTS" or "Debian GNU/Linux".
func distributionName(id, name string) string {
	first := strings.Fields(name)[0]
	if strings.EqualFold(first, id) {
		return first
	}
	return name
}

func osFamily(id, idLike string) string {
	if family, found := osFamilies[id]; found {
		return family
	}
	for _, like := range strings.Fields(idLike) {
		if family, found := osFamilies[like]; found {
			return family
		}
	}
	return strings.ToUpper(id[:1]) + id[1:]
}
