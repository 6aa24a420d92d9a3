// Package plugin discovers module archives, validates their metadata and
// manages each module's lifecycle.
//
// A module archive is a zip file (".kmod" or ".zip") holding class sources,
// resources and a module.yaml record. Exactly one entry of the record
// carries the module marker; that entry names the entry class and its
// recognized attributes (name, type, description, icon, version, help,
// factory). All other attributes are opaque properties. A file named
// "<archive>.module.yaml" next to the archive replaces the embedded record.
//
//	attributes:
//	  version: "1.2"
//	entries:
//	  acme/greet/Greeter.lua:
//	    module: true
//	    name: Greeter
//	    type: USER
//	    icon: icons/greeter.png
//
// # Lifecycle
//
// A Descriptor starts unloaded. Load builds a fresh isolation boundary over
// the archive and resolves the entry class through it; Reset drops both and
// Reload does Reset then Load. The descriptor handle itself stays valid
// across reloads and compares Equal by archive path and entry class, but
// instances must be created again with NewInstance to pick up new code.
//
// # Discovery
//
// A Locator walks a directory, loads every archive of the expected type and
// reports per-archive failures without stopping the scan:
//
//	loc := plugin.NewLocator(plugin.WithLogger(logger))
//	mods, err := loc.LoadModules(ctx, "/srv/modules", "USER")
//	for _, f := range loc.Failures() {
//	    log.Printf("%s: %v", f.Path, f.Err)
//	}
//
// A Watcher keeps a set of descriptors in step with the directory, loading
// added archives and reloading changed ones.
//
// Errors carry a Kind (discovery, metadata, isolation, instantiation) that
// KindOf extracts.
package plugin
