package probe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// Package sources recorded on each Software entry
const (
	SourceDpkg     = "dpkg"
	SourceRPM      = "rpm"
	SourcePkg      = "pkg"
	SourceBrew     = "brew"
	SourceRegistry = "registry"
	SourceWMIC     = "wmic"
)

// lines splits command output into trimmed lines, tolerating CRLF
func lines(out string) []string {
	var result []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		result = append(result, strings.TrimSpace(strings.TrimRight(scanner.Text(), "\r")))
	}
	return result
}

// parseTabSeparated parses "name\tversion" lines as written by
// dpkg-query, rpm and pkg query with a tab in the format string
func parseTabSeparated(out, source string) []Software {
	software := []Software{}
	for _, line := range lines(out) {
		name, version, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		software = append(software, Software{
			Name:    name,
			Version: strings.TrimSpace(version),
			Source:  source,
		})
	}
	return software
}

// parseBrewList parses `brew list --versions`: a name followed by one or
// more installed versions. The last version is reported.
func parseBrewList(out string) []Software {
	software := []Software{}
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		software = append(software, Software{
			Name:    fields[0],
			Version: fields[len(fields)-1],
			Source:  SourceBrew,
		})
	}
	return software
}

// parseWmicProducts parses `wmic product get name,version`. The header is
// skipped, the last whitespace-separated field is the version and the rest
// is the name.
func parseWmicProducts(out string) []Software {
	software := []Software{}
	headerSeen := false
	for _, line := range lines(out) {
		if line == "" {
			continue
		}
		if !headerSeen {
			headerSeen = true
			if strings.HasPrefix(strings.ToLower(line), "name") {
				continue
			}
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		software = append(software, Software{
			Name:    strings.Join(fields[:len(fields)-1], " "),
			Version: fields[len(fields)-1],
			Source:  SourceWMIC,
		})
	}
	return software
}

type registryEntry struct {
	DisplayName    string
	DisplayVersion string
}

// parseRegistryJSON parses ConvertTo-Json output of Uninstall registry keys.
// PowerShell emits a bare object instead of an array when there is one item.
func parseRegistryJSON(out string) ([]Software, error) {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return []Software{}, nil
	}

	var entries []registryEntry
	if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
		var single registryEntry
		if singleErr := json.Unmarshal([]byte(trimmed), &single); singleErr != nil {
			return nil, fmt.Errorf("failed to parse registry JSON: %w", err)
		}
		entries = []registryEntry{single}
	}

	software := make([]Software, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.DisplayName)
		if name == "" {
			continue
		}
		software = append(software, Software{
			Name:    name,
			Version: strings.TrimSpace(e.DisplayVersion),
			Source:  SourceRegistry,
		})
	}
	return software, nil
}

// parseUFWStatus parses `ufw status`
func parseUFWStatus(out string) Status {
	for _, line := range lines(out) {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "status") {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "active":
			return StatusEnabled
		case "inactive":
			return StatusDisabled
		}
	}
	return StatusUnknown
}

// parseNetshFirewall parses `netsh advfirewall show allprofiles`.
// Any profile switched on counts as enabled.
func parseNetshFirewall(out string) Status {
	sawOff := false
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "state") {
			continue
		}
		switch strings.ToUpper(fields[len(fields)-1]) {
		case "ON":
			return StatusEnabled
		case "OFF":
			sawOff = true
		}
	}
	if sawOff {
		return StatusDisabled
	}
	return StatusUnknown
}

// parseDefenderStatus parses Get-MpComputerStatus list output
func parseDefenderStatus(out string) Status {
	for _, line := range lines(out) {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "RealTimeProtectionEnabled" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true":
			return StatusEnabled
		case "false":
			return StatusDisabled
		}
	}
	return StatusUnknown
}

// parseSocketFilterFW parses `socketfilterfw --getglobalstate` on macOS
func parseSocketFilterFW(out string) Status {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "is disabled"), strings.Contains(lower, "state = 0"):
		return StatusDisabled
	case strings.Contains(lower, "is enabled"), strings.Contains(lower, "blocking all"),
		strings.Contains(lower, "state = 1"), strings.Contains(lower, "state = 2"):
		return StatusEnabled
	}
	return StatusUnknown
}

// parsePFInfo parses `pfctl -s info` on FreeBSD
func parsePFInfo(out string) Status {
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "Status:" {
			continue
		}
		switch fields[1] {
		case "Enabled":
			return StatusEnabled
		case "Disabled":
			return StatusDisabled
		}
	}
	return StatusUnknown
}

// parseNetUser parses `net user`. Account names sit in columns between the
// dashed separator and the "The command completed" trailer.
func parseNetUser(out string) []UserAccount {
	accounts := []UserAccount{}
	inTable := false
	for _, line := range lines(out) {
		if !inTable {
			if strings.HasPrefix(line, "---") {
				inTable = true
			}
			continue
		}
		if strings.HasPrefix(line, "The command completed") {
			break
		}
		for _, name := range strings.Fields(line) {
			accounts = append(accounts, UserAccount{Name: name})
		}
	}
	return accounts
}

// parsePasswd parses /etc/passwd, taking the first field of each entry
func parsePasswd(content string) []UserAccount {
	accounts := []UserAccount{}
	for _, line := range lines(content) {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, _, ok := strings.Cut(line, ":")
		if !ok || name == "" {
			continue
		}
		accounts = append(accounts, UserAccount{Name: name})
	}
	return accounts
}

// parseDsclUsers parses `dscl . list /Users`, dropping _-prefixed service accounts
func parseDsclUsers(out string) []UserAccount {
	accounts := []UserAccount{}
	for _, line := range lines(out) {
		if line == "" || strings.HasPrefix(line, "_") {
			continue
		}
		accounts = append(accounts, UserAccount{Name: line})
	}
	return accounts
}
