// Package startup registers the daemon with the platform's login startup
// mechanism: a systemd user unit on Linux, a launchd agent on macOS, and
// the registry Run key on Windows.
package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Enable registers the daemon to launch at login.
func Enable() error {
	switch runtime.GOOS {
	case "darwin":
		return enableMacOS()
	case "linux":
		return enableLinux()
	case "windows":
		return enableWindows()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// Disable removes the daemon from login startup.
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		return disableMacOS()
	case "linux":
		return disableLinux()
	case "windows":
		return disableWindows()
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// IsEnabled reports whether the daemon is registered for login startup.
func IsEnabled() bool {
	switch runtime.GOOS {
	case "darwin":
		return isEnabledMacOS()
	case "linux":
		return isEnabledLinux()
	case "windows":
		return isEnabledWindows()
	default:
		return false
	}
}

// --- macOS Implementation ---

const macOSPlistName = "com.pedalworks.softstepd.plist"

func macOSPlistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", macOSPlistName)
}

func enableMacOS() error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	plistContent := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>com.pedalworks.softstepd</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
        <string>run</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
</dict>
</plist>
`, execPath)

	dir := filepath.Dir(macOSPlistPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(macOSPlistPath(), []byte(plistContent), 0644)
}

func disableMacOS() error {
	path := macOSPlistPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Already disabled
	}
	return os.Remove(path)
}

func isEnabledMacOS() bool {
	_, err := os.Stat(macOSPlistPath())
	return err == nil
}

// --- Linux Implementation ---

const linuxUnitName = "softstepd.service"

func linuxUnitPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "systemd", "user", linuxUnitName)
}

func enableLinux() error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	unitContent := fmt.Sprintf(`[Unit]
Description=SoftStep pedal session daemon
After=sound.target

[Service]
ExecStart=%s run
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`, execPath)

	dir := filepath.Dir(linuxUnitPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(linuxUnitPath(), []byte(unitContent), 0644); err != nil {
		return err
	}

	if err := exec.Command("systemctl", "--user", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("systemd reload failed: %w", err)
	}
	return exec.Command("systemctl", "--user", "enable", linuxUnitName).Run()
}

func disableLinux() error {
	path := linuxUnitPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Already disabled
	}
	// Disable first so systemd forgets the unit before the file vanishes.
	_ = exec.Command("systemctl", "--user", "disable", linuxUnitName).Run()
	if err := os.Remove(path); err != nil {
		return err
	}
	return exec.Command("systemctl", "--user", "daemon-reload").Run()
}

func isEnabledLinux() bool {
	_, err := os.Stat(linuxUnitPath())
	return err == nil
}

// --- Windows Implementation ---

const windowsRegistryKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`
const windowsAppName = "SoftStepd"

func enableWindows() error {
	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command("reg", "add", windowsRegistryKey,
		"/v", windowsAppName,
		"/t", "REG_SZ",
		"/d", fmt.Sprintf(`"%s" run`, execPath),
		"/f")
	return cmd.Run()
}

func disableWindows() error {
	cmd := exec.Command("reg", "delete", windowsRegistryKey,
		"/v", windowsAppName,
		"/f")
	output, err := cmd.CombinedOutput()
	// Ignore error if the key doesn't exist
	if err != nil && !strings.Contains(string(output), "The system was unable to find the specified registry key or value") {
		return err
	}
	return nil
}

func isEnabledWindows() bool {
	cmd := exec.Command("reg", "query", windowsRegistryKey,
		"/v", windowsAppName)
	err := cmd.Run()
	return err == nil
}
