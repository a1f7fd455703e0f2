package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:     false,
				ParseMode:   "HTML",
				PollTimeout: 30,
			},
			Wazzup: WazzupConfig{
				Enabled:  false,
				APIBase:  "https://api.wazzup24.com/v3",
				ChatType: "whatsapp",
			},
		},
		Storage: StorageConfig{
			DBPath: "~/.crystalbay/messaging.db",
		},
		Automation: AutomationConfig{
			Enabled:   true,
			RulesPath: "~/.crystalbay/rules.yaml",
		},
		Notify: NotifyConfig{
			Slack: SlackNotifyConfig{
				Enabled: false,
			},
		},
		API: APIConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			EventStream: true,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
