/*
Package stats samples host and GPU resource usage.

One Sampler feeds the /status/ws/resource_status stream: CPU and memory
come from the host via gopsutil, the gpu[] section comes from the
admission registry rather than the hardware — what admission enforces
is what users should see.

# Integration Points

This package integrates with:

  - pkg/api: the resource-status websocket samples on its interval
  - pkg/gpu: registry snapshot for the gpu[] section
*/
package stats
