package database

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// seedHost is one entry of the optional hosts seed file. Credentials in the
// file are plaintext; the encrypt callback seals them before storage.
type seedHost struct {
	Name       string `yaml:"name"`
	Addr       string `yaml:"addr"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	PrivateKey string `yaml:"private_key"`
	Passphrase string `yaml:"passphrase"`
	Owner      string `yaml:"owner"`
}

type seedFile struct {
	Hosts []seedHost `yaml:"hosts"`
}

// SeedHostsFromYAML imports hosts from a YAML file, encrypting credentials
// with encrypt. Hosts whose (name, owner) pair already exists are skipped so
// the import is safe to re-run at every startup.
func SeedHostsFromYAML(path string, encrypt func(string) (string, error)) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}

	imported := 0
	for _, sh := range seed.Hosts {
		if sh.Name == "" || sh.Addr == "" || sh.Username == "" || sh.Owner == "" {
			log.Printf("[seed] skipping incomplete host entry %q", sh.Name)
			continue
		}

		var count int64
		DB.Model(&Host{}).Where("name = ? AND created_by = ?", sh.Name, sh.Owner).Count(&count)
		if count > 0 {
			continue
		}

		port := sh.Port
		if port == 0 {
			port = 22
		}

		host := Host{
			Name:      sh.Name,
			Addr:      sh.Addr,
			Port:      port,
			Username:  sh.Username,
			CreatedBy: sh.Owner,
		}
		if host.PasswordEnc, err = encrypt(sh.Password); err != nil {
			return imported, fmt.Errorf("encrypt password for %q: %w", sh.Name, err)
		}
		if host.PrivateKeyEnc, err = encrypt(sh.PrivateKey); err != nil {
			return imported, fmt.Errorf("encrypt private key for %q: %w", sh.Name, err)
		}
		if host.PassphraseEnc, err = encrypt(sh.Passphrase); err != nil {
			return imported, fmt.Errorf("encrypt passphrase for %q: %w", sh.Name, err)
		}

		if err := CreateHost(&host); err != nil {
			return imported, fmt.Errorf("create host %q: %w", sh.Name, err)
		}
		imported++
	}

	return imported, nil
}
