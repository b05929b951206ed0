package config

import (
	"time"

	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/scheduler"
)

// Config is the complete run configuration.
type Config struct {
	Club         ClubConfig           `mapstructure:"club"`
	Source       SourceConfig         `mapstructure:"source"`
	Identity     string               `mapstructure:"identity"`
	Recipients   []game.Recipient     `mapstructure:"recipients"`
	Pools        map[string][]string  `mapstructure:"pools"`
	Roles        []reconcile.Role     `mapstructure:"roles"`
	StaticRoles  map[string][]string  `mapstructure:"static_roles"`
	Overrides    []reconcile.Override `mapstructure:"overrides"`
	Rules        []RuleConfig         `mapstructure:"rules"`
	MissedWindow string               `mapstructure:"missed_window"`
	LatePrefix   string               `mapstructure:"late_prefix"`
	RefereeCheck RefereeConfig        `mapstructure:"referee_check"`
	State        StateConfig          `mapstructure:"state"`
	Export       ExportConfig         `mapstructure:"export"`
	Transport    TransportConfig      `mapstructure:"transport"`
	Logging      LoggingConfig        `mapstructure:"logging"`
	Metrics      MetricsConfig        `mapstructure:"metrics"`

	// filled by validate
	rules    []scheduler.Rule
	referee  scheduler.RefereeCheck
	location *time.Location
}

type ClubConfig struct {
	Name     string   `mapstructure:"name"`
	ID       string   `mapstructure:"id"`
	Halls    []string `mapstructure:"halls"`
	Timezone string   `mapstructure:"timezone"`
}

type SourceConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// Season pins the season's start year; 0 derives it from the run date.
	Season int `mapstructure:"season"`
}

type RuleConfig struct {
	ID         string   `mapstructure:"id"`
	OffsetDays int      `mapstructure:"offset_days"`
	Channel    string   `mapstructure:"channel"`
	Roles      []string `mapstructure:"roles"`
	// Digest sends one message per recipient and game day.
	Digest  bool   `mapstructure:"digest"`
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
}

type RefereeConfig struct {
	LeadDays   int      `mapstructure:"lead_days"`
	Escalation []string `mapstructure:"escalation"`
	Policy     string   `mapstructure:"policy"`
	Channel    string   `mapstructure:"channel"`
	Subject    string   `mapstructure:"subject"`
	Body       string   `mapstructure:"body"`
}

type StateConfig struct {
	Backend       string          `mapstructure:"backend"`
	Key           string          `mapstructure:"key"`
	Dir           string          `mapstructure:"dir"`
	Bolt          BoltConfig      `mapstructure:"bolt"`
	Redis         RedisConfig     `mapstructure:"redis"`
	Gist          GistConfig      `mapstructure:"gist"`
	EncryptionKey string          `mapstructure:"encryption_key"`
	Retention     RetentionConfig `mapstructure:"retention"`
	Lock          LockConfig      `mapstructure:"lock"`
}

type BoltConfig struct {
	Path           string `mapstructure:"path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type GistConfig struct {
	ID    string `mapstructure:"id"`
	Token string `mapstructure:"token"`
}

type RetentionConfig struct {
	ArchiveDays int `mapstructure:"archive_days"`
	LedgerDays  int `mapstructure:"ledger_days"`
}

type LockConfig struct {
	Path       string `mapstructure:"path"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type ExportConfig struct {
	XLSX   bool   `mapstructure:"xlsx"`
	ICS    bool   `mapstructure:"ics"`
	ICSKey string `mapstructure:"ics_key"`
}

type TransportConfig struct {
	DryRun      bool   `mapstructure:"dry_run"`
	Region      string `mapstructure:"region"`
	FromEmail   string `mapstructure:"from_email"`
	SMSSenderID string `mapstructure:"sms_sender_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Textfile is written in the node-exporter textfile format after each run.
	Textfile string `mapstructure:"textfile"`
}

// Directory returns the recipients keyed by name.
func (c *Config) Directory() map[string]game.Recipient {
	dir := make(map[string]game.Recipient, len(c.Recipients))
	for _, r := range c.Recipients {
		dir[r.Name] = r
	}
	return dir
}

// Season returns the configured season, or the one today falls into.
func (c *Config) Season(today time.Time) game.Season {
	if c.Source.Season > 0 {
		return game.Season{StartYear: c.Source.Season}
	}
	return game.SeasonOf(today)
}

// Location is the club's time zone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ReconcileOptions builds the reconciler input for one run.
func (c *Config) ReconcileOptions(today, now time.Time) reconcile.Options {
	return reconcile.Options{
		Today:      today,
		Now:        now,
		Identity:   game.IdentityPolicy(c.Identity),
		Roles:      c.Roles,
		Pools:      c.Pools,
		Overrides:  c.Overrides,
		Recipients: c.Directory(),
		Retention: reconcile.Retention{
			ArchiveDays: c.State.Retention.ArchiveDays,
			LedgerDays:  c.State.Retention.LedgerDays,
		},
	}
}

// SchedulerConfig returns the notification setup with parsed templates.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Rules:       c.rules,
		Missed:      scheduler.MissedPolicy(c.MissedWindow),
		Referee:     c.referee,
		StaticRoles: c.StaticRoles,
		Recipients:  c.Directory(),
		LatePrefix:  c.LatePrefix,
	}
}
