package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.crystalbay.gateway"

// servicePaths locates the per-user service file for the current OS and the
// commands to manage it.
type servicePaths struct {
	file  string
	hints []string
}

func daemonPaths() (servicePaths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return servicePaths{}, fmt.Errorf("cannot resolve home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		file := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return servicePaths{
			file: file,
			hints: []string{
				"To start: launchctl load " + file,
				"To stop:  launchctl unload " + file,
			},
		}, nil
	case "linux":
		return servicePaths{
			file: filepath.Join(home, ".config", "systemd", "user", "crystalbay.service"),
			hints: []string{
				"To start:  systemctl --user start crystalbay",
				"To enable: systemctl --user enable crystalbay",
				"To stop:   systemctl --user stop crystalbay",
			},
		}, nil
	default:
		return servicePaths{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

// renderService fills the launchd or systemd template for this machine.
func renderService(execPath, cfgPath string) string {
	home, _ := os.UserHomeDir()
	logDir := filepath.Join(home, ".crystalbay", "logs")

	tpl := systemdTemplate
	if runtime.GOOS == "darwin" {
		tpl = launchdTemplate
	}
	for key, val := range map[string]string{
		"{{EXEC}}":    execPath,
		"{{CONFIG}}":  cfgPath,
		"{{LABEL}}":   launchdLabel,
		"{{LOG}}":     filepath.Join(logDir, "gateway.log"),
		"{{ERR_LOG}}": filepath.Join(logDir, "gateway-error.log"),
	} {
		tpl = strings.ReplaceAll(tpl, key, val)
	}
	return tpl
}

func installDaemonCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the gateway as a user service (launchd or systemd)",
		Long:  "Writes a service file so the messaging gateway starts in the background at login and restarts after crashes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := daemonPaths()
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}

			unit := renderService(execPath, resolveConfigPath())
			if printOnly {
				fmt.Println(unit)
				return nil
			}

			if runtime.GOOS == "darwin" {
				home, _ := os.UserHomeDir()
				if err := os.MkdirAll(filepath.Join(home, ".crystalbay", "logs"), 0o755); err != nil {
					return fmt.Errorf("cannot create log directory: %w", err)
				}
			}

			_, statErr := os.Stat(paths.file)
			replacing := statErr == nil

			if err := os.MkdirAll(filepath.Dir(paths.file), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(paths.file, []byte(unit), 0o644); err != nil {
				return err
			}

			if replacing {
				fmt.Printf("Service file replaced: %s\n", paths.file)
			} else {
				fmt.Printf("Service file installed: %s\n", paths.file)
			}
			for _, hint := range paths.hints {
				fmt.Println(hint)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of installing it")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the gateway user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := daemonPaths()
			if err != nil {
				return err
			}
			if err := os.Remove(paths.file); err != nil {
				if os.IsNotExist(err) {
					fmt.Printf("No service file at %s, nothing to remove\n", paths.file)
					return nil
				}
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", paths.file)
			return nil
		},
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=Crystal Bay Messaging Gateway
After=network.target

[Service]
Type=simple
ExecStart={{EXEC}} serve --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
