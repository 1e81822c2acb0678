// Package bake decides what to render and remove when pages change.
//
// A publish or unpublish event is handled inside a Run. The Listener builds or
// removes the page's own artifact and then asks the Propagator to rebuild every
// live ancestor below the root, since ancestors embed derived information such
// as listings and breadcrumbs. The Run's Gate makes sure a page is rendered at
// most once per run even when several paths reach it.
//
// Pages gain the build capability through a Binder, which wraps content nodes of
// the configured view types. The Listener and Propagator only see the Buildable
// interface.
package bake
