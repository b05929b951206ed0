package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pfrederiksen/homegames/internal/apperr"
	"github.com/pfrederiksen/homegames/internal/game"
	"github.com/pfrederiksen/homegames/internal/logger"
	"github.com/pfrederiksen/homegames/internal/notifier"
	"github.com/pfrederiksen/homegames/internal/reconcile"
	"github.com/pfrederiksen/homegames/internal/scheduler"
	"github.com/pfrederiksen/homegames/internal/state"
)

// EnvPrefix prefixes environment overrides, e.g. HOMEGAMES_STATE_BACKEND.
const EnvPrefix = "HOMEGAMES"

// DefaultFile is looked up in the working directory and in
// ~/.config/homegames when no path is given.
const DefaultFile = "homegames.yaml"

const (
	defaultLatePrefix     = "[verspätet] "
	defaultRefereeSubject = "Kein Kampfgericht: {{.Game.Label}}"
	defaultRefereeBody    = `Für das Spiel {{.Game.Home}} - {{.Game.Opponent}} am {{.Weekday}}, {{.Date}} um {{.Kickoff}} ist noch niemand eingeteilt: {{join .Missing ", "}}.`
)

// Load reads the configuration from path (or the default locations), applies
// environment overrides and defaults, and validates the result. Every error
// carries apperr.CodeConfig.
func Load(path string) (*Config, error) {
	loadEnvFile(path)

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "homegames"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, apperr.New(apperr.CodeConfig, "read config", err)
	}

	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.New(apperr.CodeConfig, "decode config", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, apperr.New(apperr.CodeConfig, "validate config", err)
	}
	return &cfg, nil
}

// loadEnvFile loads a .env file next to the config file or in the working
// directory. Variables already set in the environment win.
func loadEnvFile(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

// setDefaults registers the scalar keys so that AutomaticEnv can override
// them even when the file does not mention them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("identity", string(game.IdentityOpponentDate))
	v.SetDefault("club.timezone", "Europe/Berlin")
	v.SetDefault("source.url", "")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.season", 0)
	v.SetDefault("missed_window", string(scheduler.MissedLate))
	v.SetDefault("late_prefix", defaultLatePrefix)

	v.SetDefault("referee_check.lead_days", 3)
	v.SetDefault("referee_check.policy", string(scheduler.AlertDaily))
	v.SetDefault("referee_check.channel", scheduler.ChannelPreferred)

	v.SetDefault("state.backend", BackendDir)
	v.SetDefault("state.key", state.DefaultKey)
	v.SetDefault("state.dir", "~/.homegames")
	v.SetDefault("state.bolt.path", "~/.homegames/homegames.db")
	v.SetDefault("state.bolt.timeout_seconds", 5)
	v.SetDefault("state.redis.address", "localhost:6379")
	v.SetDefault("state.redis.password", "")
	v.SetDefault("state.redis.db", 0)
	v.SetDefault("state.redis.prefix", "homegames:")
	v.SetDefault("state.gist.id", "")
	v.SetDefault("state.gist.token", "")
	v.SetDefault("state.encryption_key", "")
	v.SetDefault("state.retention.archive_days", 400)
	v.SetDefault("state.retention.ledger_days", 60)
	v.SetDefault("state.lock.path", "")
	v.SetDefault("state.lock.ttl_seconds", 600)

	v.SetDefault("export.xlsx", true)
	v.SetDefault("export.ics", false)
	v.SetDefault("export.ics_key", "heimspiele.ics")

	v.SetDefault("transport.dry_run", false)
	v.SetDefault("transport.region", "eu-central-1")
	v.SetDefault("transport.from_email", "")
	v.SetDefault("transport.sms_sender_id", "")

	v.SetDefault("logging.level", string(logger.LevelInfo))
	v.SetDefault("logging.format", "console")
	v.SetDefault("metrics.textfile", "")
}

// expandEnvVars replaces ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val, ok := v.Get(key).(string)
		if !ok || !strings.Contains(val, "${") {
			continue
		}
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}
}

// applyDefaults fills what viper defaults cannot express. Viper lowercases
// map keys, so role and pool names are compared in lower case throughout.
func applyDefaults(cfg *Config) {
	for i := range cfg.Recipients {
		r := &cfg.Recipients[i]
		r.Email = os.ExpandEnv(strings.TrimSpace(r.Email))
		r.Phone = os.ExpandEnv(strings.TrimSpace(r.Phone))
	}

	for i := range cfg.Roles {
		r := &cfg.Roles[i]
		r.Name = strings.ToLower(r.Name)
		r.Pool = strings.ToLower(r.Pool)
		if r.Kind == "" {
			r.Kind = reconcile.KindTask
		}
		if r.Policy == "" {
			r.Policy = reconcile.PolicyAuto
		}
		if r.Policy == reconcile.PolicyAuto && r.Pool == "" {
			r.Pool = r.Name
		}
	}

	for i := range cfg.Overrides {
		cfg.Overrides[i].Role = strings.ToLower(cfg.Overrides[i].Role)
	}

	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if rule.Channel == "" {
			rule.Channel = scheduler.ChannelPreferred
		}
		for j, role := range rule.Roles {
			rule.Roles[j] = strings.ToLower(role)
		}
	}

	if cfg.RefereeCheck.Subject == "" {
		cfg.RefereeCheck.Subject = defaultRefereeSubject
	}
	if cfg.RefereeCheck.Body == "" {
		cfg.RefereeCheck.Body = defaultRefereeBody
	}

	if cfg.State.Lock.Path == "" {
		cfg.State.Lock.Path = filepath.Join(cfg.State.Dir, "homegames.lock")
	}
}

// validate checks the configuration and compiles templates. All problems
// are reported at once.
func (c *Config) validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Club.ID == "" {
		fail("club.id is required")
	}
	loc, err := time.LoadLocation(c.Club.Timezone)
	if err != nil {
		fail("club.timezone: %w", err)
	} else {
		c.location = loc
	}
	if !game.IdentityPolicy(c.Identity).Valid() {
		fail("identity: unknown policy %q", c.Identity)
	}

	directory := make(map[string]game.Recipient, len(c.Recipients))
	for _, r := range c.Recipients {
		if r.Name == "" {
			fail("recipients: entry without name")
			continue
		}
		if _, dup := directory[r.Name]; dup {
			fail("recipients: duplicate name %q", r.Name)
		}
		directory[r.Name] = r
	}
	requireRecipient := func(where, name string) {
		r, ok := directory[name]
		switch {
		case !ok:
			fail("%s: unknown recipient %q", where, name)
		case !r.HasChannel():
			fail("%s: recipient %q has neither email nor phone", where, name)
		}
	}

	for pool, names := range c.Pools {
		for _, name := range names {
			requireRecipient("pools."+pool, name)
		}
	}
	for role, names := range c.StaticRoles {
		for _, name := range names {
			requireRecipient("static_roles."+role, name)
		}
	}
	for _, name := range c.RefereeCheck.Escalation {
		requireRecipient("referee_check.escalation", name)
	}

	roles := make(map[string]reconcile.Role, len(c.Roles))
	var judgeRoles []string
	for _, r := range c.Roles {
		if r.Name == "" {
			fail("roles: entry without name")
			continue
		}
		if _, dup := roles[r.Name]; dup {
			fail("roles: duplicate role %q", r.Name)
		}
		if _, clash := c.StaticRoles[r.Name]; clash {
			fail("roles: %q is also a static role", r.Name)
		}
		roles[r.Name] = r
		switch r.Kind {
		case reconcile.KindJudge:
			judgeRoles = append(judgeRoles, r.Name)
		case reconcile.KindTask:
		default:
			fail("roles.%s: unknown kind %q", r.Name, r.Kind)
		}
		switch r.Policy {
		case reconcile.PolicyAuto:
			if _, ok := c.Pools[r.Pool]; !ok {
				fail("roles.%s: pool %q is not configured", r.Name, r.Pool)
			}
		case reconcile.PolicyManual:
		default:
			fail("roles.%s: unknown policy %q", r.Name, r.Policy)
		}
	}

	for i, o := range c.Overrides {
		if o.Game == "" {
			fail("overrides[%d]: game is required", i)
		}
		if _, ok := roles[o.Role]; !ok {
			fail("overrides[%d]: unknown role %q", i, o.Role)
		}
		requireRecipient(fmt.Sprintf("overrides[%d]", i), o.Recipient)
	}

	c.rules = c.rules[:0]
	ids := make(map[string]bool, len(c.Rules))
	for i, rc := range c.Rules {
		where := fmt.Sprintf("rules[%d]", i)
		if rc.ID == "" {
			fail("%s: id is required", where)
		} else {
			where = "rules." + rc.ID
		}
		if ids[rc.ID] {
			fail("%s: duplicate id", where)
		}
		ids[rc.ID] = true
		if strings.HasPrefix(rc.ID, scheduler.RefereeRuleID) {
			fail("%s: id prefix %q is reserved", where, scheduler.RefereeRuleID)
		}
		if rc.OffsetDays < 0 {
			fail("%s: offset_days must not be negative", where)
		}
		if !validChannel(rc.Channel) {
			fail("%s: unknown channel %q", where, rc.Channel)
		}
		if len(rc.Roles) == 0 {
			fail("%s: at least one role is required", where)
		}
		for _, role := range rc.Roles {
			_, duty := roles[role]
			_, static := c.StaticRoles[role]
			if !duty && !static {
				fail("%s: unknown role %q", where, role)
			}
		}
		subject, err := scheduler.ParseTemplate(rc.ID+".subject", rc.Subject)
		if err != nil {
			fail("%s.subject: %w", where, err)
		}
		body, err := scheduler.ParseTemplate(rc.ID+".body", rc.Body)
		if err != nil {
			fail("%s.body: %w", where, err)
		}
		c.rules = append(c.rules, scheduler.Rule{
			ID:      rc.ID,
			Offset:  rc.OffsetDays,
			Channel: rc.Channel,
			Roles:   rc.Roles,
			Digest:  rc.Digest,
			Subject: subject,
			Body:    body,
		})
	}

	if err := c.compileReferee(judgeRoles); err != nil {
		errs = append(errs, err)
	}

	switch scheduler.MissedPolicy(c.MissedWindow) {
	case scheduler.MissedLate, scheduler.MissedSkip:
	default:
		fail("missed_window: unknown policy %q", c.MissedWindow)
	}

	if err := c.State.validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Export.ICS && c.Export.ICSKey == "" {
		fail("export.ics_key is required when export.ics is enabled")
	}
	if !c.Transport.DryRun && c.Transport.FromEmail == "" && c.usesEmail() {
		fail("transport.from_email is required for email notifications")
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		fail("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		fail("logging.format: must be json or console, got %q", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func (c *Config) compileReferee(judgeRoles []string) error {
	rc := c.RefereeCheck
	var errs []error
	if rc.LeadDays < 0 {
		errs = append(errs, errors.New("referee_check.lead_days must not be negative"))
	}
	switch scheduler.AlertPolicy(rc.Policy) {
	case scheduler.AlertDaily, scheduler.AlertOnce:
	default:
		errs = append(errs, fmt.Errorf("referee_check.policy: unknown policy %q", rc.Policy))
	}
	if !validChannel(rc.Channel) {
		errs = append(errs, fmt.Errorf("referee_check.channel: unknown channel %q", rc.Channel))
	}
	subject, err := scheduler.ParseTemplate(scheduler.RefereeRuleID+".subject", rc.Subject)
	if err != nil {
		errs = append(errs, fmt.Errorf("referee_check.subject: %w", err))
	}
	body, err := scheduler.ParseTemplate(scheduler.RefereeRuleID+".body", rc.Body)
	if err != nil {
		errs = append(errs, fmt.Errorf("referee_check.body: %w", err))
	}

	c.referee = scheduler.RefereeCheck{
		LeadDays:   rc.LeadDays,
		Roles:      judgeRoles,
		Escalation: rc.Escalation,
		Policy:     scheduler.AlertPolicy(rc.Policy),
		Channel:    rc.Channel,
		Subject:    subject,
		Body:       body,
	}
	return errors.Join(errs...)
}

func (s StateConfig) validate() error {
	var errs []error
	switch s.Backend {
	case BackendDir:
		if s.Dir == "" {
			errs = append(errs, errors.New("state.dir is required for the dir backend"))
		}
	case BackendBolt:
		if s.Bolt.Path == "" {
			errs = append(errs, errors.New("state.bolt.path is required for the bolt backend"))
		}
	case BackendRedis:
		if s.Redis.Address == "" {
			errs = append(errs, errors.New("state.redis.address is required for the redis backend"))
		}
	case BackendGist:
		if s.Gist.ID == "" || s.Gist.Token == "" {
			errs = append(errs, errors.New("state.gist.id and state.gist.token are required for the gist backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend: unknown backend %q", s.Backend))
	}
	if s.Key == "" {
		errs = append(errs, errors.New("state.key is required"))
	}
	if s.Retention.ArchiveDays < 0 || s.Retention.LedgerDays < 0 {
		errs = append(errs, errors.New("state.retention values must not be negative"))
	}
	return errors.Join(errs...)
}

func validChannel(ch string) bool {
	switch ch {
	case string(notifier.ChannelEmail), string(notifier.ChannelSMS), scheduler.ChannelPreferred:
		return true
	}
	return false
}

// usesEmail reports whether any configured notification may go out by email.
func (c *Config) usesEmail() bool {
	hasEmail := false
	for _, r := range c.Recipients {
		if r.Email != "" {
			hasEmail = true
			break
		}
	}
	if !hasEmail {
		return false
	}
	if c.RefereeCheck.LeadDays > 0 && len(c.RefereeCheck.Escalation) > 0 && c.RefereeCheck.Channel != string(notifier.ChannelSMS) {
		return true
	}
	for _, r := range c.Rules {
		if r.Channel != string(notifier.ChannelSMS) {
			return true
		}
	}
	return false
}
