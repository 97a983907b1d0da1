// Package main holds analysis units. This file is not a unit.
package main
