package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ____                                      ____            _    
 |  _ \ ___  ___ _____   _____ _ __ _   _  |  _ \  ___  ___| | __
 | |_) / _ \/ __/ _ \ \ / / _ \ '__| | | | | | | |/ _ \/ __| |/ /
 |  _ <  __/ (_| (_) \ V /  __/ |  | |_| | | |_| |  __/\__ \   < 
 |_| \_\___|\___\___/ \_/ \___|_|   \__, | |____/ \___||___/_|\_\
                                    |___/                        
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Customer Account Service - Version %s\x1b[0m\n\n", Version)
}
