// Package web3 houses blockchain connectivity for the vault contracts: the
// chain client abstraction, YAML chain definitions, and (in subpackages) the
// go-ethereum implementation, a registry of named chains, and the bounded
// cache of contract bindings shared by chat and vault management.
package web3
