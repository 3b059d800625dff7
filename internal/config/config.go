package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
	"gopkg.in/ini.v1"

	"github.com/Travis-Britz/ddnsrelay"
)

// Config is everything the relay binary needs. Zero values are never relied on: start from Default.
type Config struct {
	Server     Server     `yaml:"server" ini:"server"`
	Cloudflare Cloudflare `yaml:"cloudflare" ini:"cloudflare"`
	Telegram   Telegram   `yaml:"telegram" ini:"telegram"`
	Privacy    Privacy    `yaml:"privacy" ini:"privacy"`
	Cache      Cache      `yaml:"cache" ini:"cache"`
}

type Server struct {
	Listen          string        `yaml:"listen" ini:"listen"`
	Path            string        `yaml:"path" ini:"path"`
	Secret          string        `yaml:"secret" ini:"secret"`
	Timeout         time.Duration `yaml:"timeout" ini:"timeout"`
	DefaultTTL      int           `yaml:"default_ttl" ini:"default_ttl"`
	DefaultNodeName string        `yaml:"default_node_name" ini:"default_node_name"`
	// RootMarker is the prefix that addresses the zone apex. Empty disables root records.
	RootMarker string `yaml:"root_marker" ini:"root_marker"`
}

// Cloudflare holds the provider credentials: either Token (or KeyFile holding one), or APIKey with Email.
type Cloudflare struct {
	Token    string `yaml:"token" ini:"token"`
	KeyFile  string `yaml:"key_file" ini:"key_file"`
	APIKey   string `yaml:"api_key" ini:"api_key"`
	Email    string `yaml:"email" ini:"email"`
	ZoneID   string `yaml:"zone_id" ini:"zone_id"`
	ZoneName string `yaml:"zone_name" ini:"zone_name"`
	BaseURL  string `yaml:"base_url" ini:"base_url"`
}

type Telegram struct {
	BotToken string `yaml:"bot_token" ini:"bot_token"`
	ChatID   string `yaml:"chat_id" ini:"chat_id"`
	APIURL   string `yaml:"api_url" ini:"api_url"`
	Language string `yaml:"language" ini:"language"`
}

// Enabled reports whether both the bot token and the destination are set.
func (t Telegram) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type Privacy struct {
	HideIP     bool   `yaml:"hide_ip" ini:"hide_ip"`
	IPMaskChar string `yaml:"ip_mask_char" ini:"ip_mask_char"`
	HideDomain bool   `yaml:"hide_domain" ini:"hide_domain"`
}

func (p Privacy) Masking() ddnsrelay.Masking {
	return ddnsrelay.Masking{IP: p.HideIP, IPToken: p.IPMaskChar, Domain: p.HideDomain}
}

const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
)

type Cache struct {
	Backend       string `yaml:"backend" ini:"backend"`
	File          string `yaml:"file" ini:"file"`
	RedisAddr     string `yaml:"redis_addr" ini:"redis_addr"`
	RedisPassword string `yaml:"redis_password" ini:"redis_password"`
	RedisDB       int    `yaml:"redis_db" ini:"redis_db"`
}

// Default returns the configuration used for every setting that a file or the environment leaves out.
func Default() *Config {
	return &Config{
		Server: Server{
			Listen:          ":8080",
			Path:            "/",
			Timeout:         ddnsrelay.DefaultTimeout,
			DefaultTTL:      ddnsrelay.AutoTTL,
			DefaultNodeName: "unknown",
			RootMarker:      ddnsrelay.DefaultRootMarker,
		},
		Telegram: Telegram{
			APIURL:   ddnsrelay.DefaultTelegramAPI,
			Language: "en",
		},
		Privacy: Privacy{HideIP: true, IPMaskChar: "*"},
		Cache:   Cache{Backend: CacheMemory, File: "cf_cache.db"},
	}
}

// Load reads the optional config file at path (YAML or INI, by extension),
// applies environment overrides through lookup, and validates the result.
// lookup is usually os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	c := Default()
	if path != "" {
		if err := c.readFile(path); err != nil {
			return nil, err
		}
	}
	if lookup != nil {
		if err := c.applyEnv(lookup); err != nil {
			return nil, fmt.Errorf("invalid environment: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func (c *Config) readFile(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	case ".ini", ".conf":
		if err := ini.MapTo(c, path); err != nil {
			return fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q: use .yaml, .yml, .ini or .conf", ext)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok {
				*dst = v
				return
			}
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str(&c.Server.Secret, "API_SECRET")
	str(&c.Server.Listen, "LISTEN_ADDR")
	str(&c.Server.Path, "UPDATE_PATH")
	integer(&c.Server.DefaultTTL, "DEFAULT_TTL")
	str(&c.Server.DefaultNodeName, "DEFAULT_NODE_NAME")
	str(&c.Server.RootMarker, "ROOT_MARKER")
	if v, ok := lookup("OUTBOUND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("OUTBOUND_TIMEOUT: %w", err))
		} else {
			c.Server.Timeout = d
		}
	}
	if v, ok := lookup("ROOT_RECORDS"); ok {
		if enabled, err := strconv.ParseBool(v); err != nil {
			errs = append(errs, fmt.Errorf("ROOT_RECORDS: %w", err))
		} else if !enabled {
			c.Server.RootMarker = ""
		}
	}

	str(&c.Cloudflare.Token, "CF_DNS_API_TOKEN")
	str(&c.Cloudflare.KeyFile, "CF_KEY_FILE")
	str(&c.Cloudflare.APIKey, "CF_API_KEY")
	str(&c.Cloudflare.Email, "CF_API_EMAIL")
	str(&c.Cloudflare.ZoneID, "CF_ZONE_ID")
	str(&c.Cloudflare.ZoneName, "CF_ZONE_NAME")
	str(&c.Cloudflare.BaseURL, "CF_API_BASE_URL")

	str(&c.Telegram.BotToken, "TG_BOT_TOKEN")
	str(&c.Telegram.ChatID, "TG_CHAT_ID", "TG_CHANNEL_ID")
	str(&c.Telegram.APIURL, "TG_API_URL")
	str(&c.Telegram.Language, "NOTIFY_LANGUAGE")

	boolean(&c.Privacy.HideIP, "HIDE_IP_SEGMENTS")
	str(&c.Privacy.IPMaskChar, "IP_MASK_CHAR")
	boolean(&c.Privacy.HideDomain, "HIDE_DOMAIN")

	str(&c.Cache.Backend, "ZONE_CACHE")
	str(&c.Cache.File, "CACHE_FILE_NAME")
	str(&c.Cache.RedisAddr, "REDIS_ADDR")
	str(&c.Cache.RedisPassword, "REDIS_PASSWORD")
	integer(&c.Cache.RedisDB, "REDIS_DB")

	return errors.Join(errs...)
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Secret == "" {
		errs = append(errs, errors.New("server secret (API_SECRET) is required"))
	}
	if !ddnsrelay.ValidTTL(c.Server.DefaultTTL) {
		errs = append(errs, fmt.Errorf("default TTL %d must be %d or between %d and %d",
			c.Server.DefaultTTL, ddnsrelay.AutoTTL, ddnsrelay.MinTTL, ddnsrelay.MaxTTL))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("update path %q must start with /", c.Server.Path))
	}

	hasToken := c.Cloudflare.Token != "" || c.Cloudflare.KeyFile != ""
	hasKey := c.Cloudflare.APIKey != "" || c.Cloudflare.Email != ""
	switch {
	case hasToken && hasKey:
		errs = append(errs, errors.New("cloudflare: configure either an API token or a global key and email, not both"))
	case hasKey && (c.Cloudflare.APIKey == "" || c.Cloudflare.Email == ""):
		errs = append(errs, errors.New("cloudflare: global key authentication needs both api_key and email"))
	case !hasToken && !hasKey:
		errs = append(errs, errors.New("cloudflare: an API token (CF_DNS_API_TOKEN or key_file) is required"))
	}

	if _, ok := messageLanguages[c.Telegram.Language]; !ok {
		errs = append(errs, fmt.Errorf("telegram: unsupported language %q", c.Telegram.Language))
	}

	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheFile:
		if c.Cache.File == "" {
			errs = append(errs, errors.New("cache: file backend needs a file name"))
		}
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache: redis backend needs an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown backend %q", c.Cache.Backend))
	}
	return errors.Join(errs...)
}

var messageLanguages = map[string]struct{}{"en": {}, "zh": {}}

// ReadSecretFile returns the first line of the file at path.
// The file must not be readable by group or others.
func ReadSecretFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("error checking key file permissions: %w", err)
	}
	// 0400 is accepted too: secrets managers often mount files read-only
	if perms := info.Mode().Perm(); perms != 0600 && perms != 0400 {
		return "", fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("error reading key: %w", err)
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("key file \"%s\" is empty", path)
	}
	return line, nil
}
