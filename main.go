package main

import "api_books/cmd"

func main() {
	cmd.Execute()
}
