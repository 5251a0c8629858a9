// Package gecko stages the application package a Gecko based browser needs
// before it can be started as a minimal app and driven over CDP.
package gecko

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/cdpboot/cdpboot/storage"
)

// Namespace is the chrome:// package name the app content is registered under.
const Namespace = "cdpboot"

const urlPlaceholder = "{{URL}}"

const applicationINI = `[App]
Vendor=cdpboot
Name=cdpboot
Version=1.0
BuildID=20230118
ID=app@cdpboot.local

[Gecko]
MinVersion=80.*
MaxVersion=999.*
`

const chromeManifest = "content " + Namespace + " chrome/\n"

const prefsJS = `pref("toolkit.defaultChromeURI", "` + urlPlaceholder + `");
`

const indexHTML = `<?xml version="1.0"?>
<?xml-stylesheet href="chrome://global/skin/" type="text/css"?>
<html xmlns="http://www.w3.org/1999/xhtml">
  <head><meta charset="utf-8"/></head>
  <body></body>
</html>
`

// Profile holds the paths of a staged application package.
type Profile struct {
	Root           string
	AppDir         string
	ContentDir     string
	PreferencesDir string
	ApplicationINI string
	Manifest       string
	Prefs          string
	IndexHTML      string
}

// ProfilePaths returns the layout of the application package rooted at
// dataPath. Nothing is touched on disk.
func ProfilePaths(dataPath string) *Profile {
	app := filepath.Join(dataPath, "app")
	return &Profile{
		Root:           dataPath,
		AppDir:         app,
		ContentDir:     filepath.Join(app, "chrome", "content"),
		PreferencesDir: filepath.Join(app, "defaults", "preferences"),
		ApplicationINI: filepath.Join(app, "application.ini"),
		Manifest:       filepath.Join(app, "chrome.manifest"),
		Prefs:          filepath.Join(app, "defaults", "preferences", "prefs.js"),
		IndexHTML:      filepath.Join(app, "chrome", "index.html"),
	}
}

// Files returns the staged files and their contents for url.
func (p *Profile) Files(url string) map[string]string {
	return map[string]string{
		p.ApplicationINI: applicationINI,
		p.Manifest:       chromeManifest,
		p.Prefs:          strings.Replace(prefsJS, urlPlaceholder, url, 1),
		p.IndexHTML:      indexHTML,
	}
}

// ProfileBuilder writes application packages.
type ProfileBuilder struct {
	fs        afero.Fs
	persister storage.FilePersister
}

// NewProfileBuilder returns a ProfileBuilder that stages packages on fs.
// A nil fs means the OS filesystem.
func NewProfileBuilder(fs afero.Fs) *ProfileBuilder {
	p := storage.NewLocalFilePersister(fs)
	return &ProfileBuilder{
		fs:        p.Fs(),
		persister: p,
	}
}

// Build creates the application package for url under dataPath.
//
// Existing directories are reused and existing files are replaced, so
// building twice with the same input leaves identical bytes on disk.
// The url is embedded as is.
func (b *ProfileBuilder) Build(ctx context.Context, dataPath, url string) (*Profile, error) {
	if dataPath == "" {
		return nil, errors.New("profile data path is empty")
	}

	p := ProfilePaths(dataPath)
	for _, dir := range [...]string{p.Root, p.ContentDir, p.PreferencesDir} {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating profile directory %q", dir)
		}
	}

	// The order is fixed so that failures are reproducible.
	files := p.Files(url)
	for _, path := range [...]string{p.ApplicationINI, p.Manifest, p.Prefs, p.IndexHTML} {
		if err := b.persister.Persist(ctx, path, strings.NewReader(files[path])); err != nil {
			return nil, errors.Wrapf(err, "writing profile file %q", path)
		}
	}

	return p, nil
}
