// Package endpoint defines resolved endpoint descriptors and the Source and
// Sink contracts implemented by every concrete adapter.
//
// A Descriptor is the immutable, validated description of one concrete
// endpoint: a socket to listen on or send to, a file to replay or append to,
// or a broker URL. Descriptors are produced by the configuration resolver
// (one descriptor per concrete endpoint, after comma-list expansion) and
// consumed by the flow table, which binds each one to a live adapter.
//
// Adapters own their underlying resource exclusively: a Source owns its
// socket or read handle, a Sink owns its connection or write handle, and
// ownership is never shared between adapters or flows. Lifecycle is uniform:
// Open acquires the resource and surfaces construction-time failures before
// the owning flow is considered started; Close releases it and is safe to
// call from another goroutine, which is how a blocked Next is interrupted
// during shutdown.
package endpoint
