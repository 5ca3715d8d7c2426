// Package daemonctl holds the client side of daemon lifecycle management:
// reaching the control socket (spawning a detached daemon when nothing
// answers), stopping a daemon through its PID marker, and reporting whether
// one is running.
package daemonctl
