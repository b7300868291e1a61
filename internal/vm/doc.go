// Package vm runs a deployment from start to finish.
//
// Deploy orchestrates the low-level components (image, cloudinit, disk,
// libvirt, network, sshconfig) as a strictly sequential state machine:
//
//	Idle → Cleaning → Configuring → DiskProvisioning → Launching →
//	NetworkWait → Registering → Ready
//
// Any error moves the deployment to Failed and is returned with the phase it
// happened in. Only the address discovery in NetworkWait retries; every other
// step fails fast.
//
// Redeploying a name is idempotent: Cleaning removes the previous domain and
// its artifacts before anything new is created, and the connection record
// for the name is replaced wholesale.
package vm
