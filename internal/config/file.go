package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// LoadFile reads a winfoom-style "key=value" properties file (§6 of the
// specification) into a Config. Unrecognized keys are ignored; missing
// keys keep their Default() value.
//
// The properties file has no [section] headers, so it parses cleanly as
// an ini.v1 file with everything in the DEFAULT section.
func LoadFile(path string) (*Config, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	out := Default()
	sec := cfg.Section("")

	if sec.HasKey("local.port") {
		out.LocalPort = sec.Key("local.port").MustInt(out.LocalPort)
	}
	if sec.HasKey("proxy.type") {
		kind, err := ParseKind(sec.Key("proxy.type").String())
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		out.ProxyType = kind
	}

	out.SetHTTPProxy(sec.Key("proxy.http.host").String(), sec.Key("proxy.http.port").MustInt(0))
	out.SetSOCKS4Proxy(sec.Key("proxy.socks4.host").String(), sec.Key("proxy.socks4.port").MustInt(0))
	out.SetSOCKS5Proxy(sec.Key("proxy.socks5.host").String(), sec.Key("proxy.socks5.port").MustInt(0))

	out.PacFileLocation = sec.Key("proxy.pac.fileLocation").String()

	out.Username = sec.Key("proxy.username").String()
	out.StorePassword = sec.Key("proxy.storePassword").MustBool(false)
	if raw := sec.Key("proxy.password").String(); raw != "" {
		if out.StorePassword {
			pw, err := DeobfuscatePassword(raw)
			if err != nil {
				return nil, fmt.Errorf("config file %s: proxy.password: %w", path, err)
			}
			out.Password = pw
		} else {
			out.Password = raw
		}
	}
	out.Kerberos = sec.Key("proxy.kerberos").MustBool(false)

	out.TestURL = sec.Key("proxy.test.url").String()

	if sec.HasKey("blacklist.timeout") {
		minutes := sec.Key("blacklist.timeout").MustInt(int(out.BlacklistTimeout / time.Minute))
		out.BlacklistTimeout = time.Duration(minutes) * time.Minute
	}

	out.Autostart = sec.Key("autostart").MustBool(false)
	out.Autodetect = sec.Key("autodetect").MustBool(false)

	return out, nil
}

// SaveFile writes cfg back to path in the same "key=value" format,
// obfuscating the password when StorePassword is set.
func SaveFile(path string, cfg *Config) error {
	out := ini.Empty()
	sec := out.Section("")

	set := func(key, value string) {
		_, _ = sec.NewKey(key, value)
	}

	set("local.port", fmt.Sprintf("%d", cfg.LocalPort))
	set("proxy.type", string(cfg.ProxyType))
	set("proxy.http.host", cfg.HTTPProxy.Host)
	set("proxy.http.port", fmt.Sprintf("%d", cfg.HTTPProxy.Port))
	set("proxy.socks4.host", cfg.SOCKS4Proxy.Host)
	set("proxy.socks4.port", fmt.Sprintf("%d", cfg.SOCKS4Proxy.Port))
	set("proxy.socks5.host", cfg.SOCKS5Proxy.Host)
	set("proxy.socks5.port", fmt.Sprintf("%d", cfg.SOCKS5Proxy.Port))
	set("proxy.pac.fileLocation", cfg.PacFileLocation)
	set("proxy.username", cfg.Username)
	set("proxy.storePassword", fmt.Sprintf("%t", cfg.StorePassword))
	if cfg.StorePassword && cfg.Password != "" {
		set("proxy.password", ObfuscatePassword(cfg.Password))
	} else {
		set("proxy.password", "")
	}
	set("proxy.kerberos", fmt.Sprintf("%t", cfg.Kerberos))
	set("proxy.test.url", cfg.TestURL)
	set("blacklist.timeout", fmt.Sprintf("%d", int(cfg.BlacklistTimeout/time.Minute)))
	set("autostart", fmt.Sprintf("%t", cfg.Autostart))
	set("autodetect", fmt.Sprintf("%t", cfg.Autodetect))

	if err := out.SaveTo(path); err != nil {
		return fmt.Errorf("save config file %s: %w", path, err)
	}
	return nil
}
