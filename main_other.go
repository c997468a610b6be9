//go:build !windows

package main

import "github.com/sirupsen/logrus"

func main() {
	logrus.Fatal("[!] ERROR : wininfo only runs on Windows.")
}
