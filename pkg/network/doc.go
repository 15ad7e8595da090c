/*
Package network manages host port allocation for published workloads.

Static page containers share the host network namespace and their
server binds a port from a configured range directly; the Allocator is
the bookkeeping that keeps two pages off the same port. A port is
reserved before the page's payload is queued and released in the
worker's cleanup phase, alongside the container itself.

Allocation double-checks availability with a live bind probe, so ports
held by unrelated host processes are skipped rather than fought over.

# Integration Points

This package integrates with:

  - pkg/manager: reserves a port during static page upload
  - pkg/worker: releases the port when the page's container exits
*/
package network
