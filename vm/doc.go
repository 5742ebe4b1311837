// Package vm implements the kopi Java virtual machine.
//
// This package contains:
//   - Class model, bootstrap and user-defined class loaders, linking
//   - Slot-based value representation and typed arrays
//   - Threads, frames and the opcode dispatch table
//   - Class initialization, exception delivery and stack traces
//   - The native-method bridge and the intrinsics a JDK 8 class library needs
package vm
