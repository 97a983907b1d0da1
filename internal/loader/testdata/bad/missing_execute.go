package main

import "auditkit/internal/descriptor"

func Define() descriptor.Definition {
	return descriptor.Definition{}
}
