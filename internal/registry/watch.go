package registry

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the full registry whenever a *.toml file in the model
// directory is written, created, removed or renamed, until ctx is
// cancelled. A write to one file triggers a full LoadAll rather than a
// single-file patch, since cross-references between namespace files (a
// plugin in one referencing an object in another) make partial reloads
// unsafe to reason about.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".toml" {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Printf("registry: model file changed (%s), reloading", event.Name)
			if err := r.LoadAll(); err != nil {
				log.Printf("registry: reload after %s failed: %v", event.Name, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("registry: watcher error: %v", err)
		}
	}
}
