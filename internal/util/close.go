package util

import (
	"io"
	"log"
	"reflect"
)

// CloseWithErr closes a resource and logs any error. It tolerates nil
// closers, including typed nil pointers hiding behind the interface.
func CloseWithErr(closer io.Closer, name string) {
	if closer == nil {
		return
	}
	if val := reflect.ValueOf(closer); val.Kind() == reflect.Ptr && val.IsNil() {
		return
	}
	err := closer.Close()
	if err == nil {
		return
	}
	if name == "" {
		log.Printf("close error: %v", err)
		return
	}
	log.Printf("close %s: %v", name, err)
}
