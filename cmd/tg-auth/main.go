package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/session/tdesktop"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/videorelay/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool creates the session database the relay service reads on startup")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	sessionPath := getSessionPath()

	// try to detect telegram desktop
	tdataPath := getTelegramDesktopPath()
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)

	// if default path failed, try asking user
	if tdataErr != nil || len(accounts) == 0 {
		fmt.Printf("default path not found: %s\n", tdataPath)
		fmt.Print("enter telegram desktop path (or press enter to skip): ")
		customPath, _ := reader.ReadString('\n')
		customPath = strings.TrimSpace(customPath)

		if customPath != "" {
			// add tdata subfolder if not present
			if !strings.HasSuffix(customPath, "tdata") {
				customPath = filepath.Join(customPath, "tdata")
			}
			accounts, tdataErr = tdesktop.Read(customPath, nil)
			if tdataErr == nil && len(accounts) > 0 {
				tdataPath = customPath
			}
		}
	}

	haveTData := tdataErr == nil && len(accounts) > 0
	if haveTData {
		fmt.Printf("\ndetected %d telegram desktop session(s) at: %s\n", len(accounts), tdataPath)
	}

	fmt.Println()
	fmt.Println("choose authentication method:")
	if haveTData {
		fmt.Println("  1. use telegram desktop session (recommended)")
	}
	fmt.Println("  2. authenticate with phone number (sms/code)")
	fmt.Println("  3. scan a qr code with the telegram app")
	fmt.Print("\nenter choice: ")

	choice, _ := reader.ReadString('\n')
	choice = strings.TrimSpace(choice)

	authMethod := 2
	switch {
	case choice == "1" && haveTData:
		authMethod = 1
	case choice == "3":
		authMethod = 3
	}

	// get api credentials
	apiID, apiHash := getAPICredentials(reader)

	if authMethod == 3 {
		if err := authWithQR(apiID, apiHash, sessionPath); err != nil {
			fmt.Printf("error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("\n✓ authentication successful!")
		fmt.Printf("session stored at: %s\n", sessionPath)
		fmt.Println("\n⚠️  keep this file secret! it provides full access to your telegram account")
		return
	}

	var client *gotgproto.Client
	var err error

	if authMethod == 1 {
		client, err = authWithTData(apiID, apiHash, sessionPath, accounts, reader)
	} else {
		client, err = authWithPhone(apiID, apiHash, sessionPath, reader)
	}

	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	defer client.Stop()

	fmt.Println("\n✓ authentication successful!")
	fmt.Printf("logged in as: @%s\n", client.Self.Username)
	fmt.Printf("session stored at: %s\n", sessionPath)
	fmt.Println("\n⚠️  keep this file secret! it provides full access to your telegram account")
}

// getSessionPath returns the session database path the relay service uses.
func getSessionPath() string {
	if path := os.Getenv("SESSION_PATH"); path != "" {
		return path
	}
	return "./session.db"
}

// getTelegramDesktopPath returns the path to Telegram Desktop data directory
func getTelegramDesktopPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Telegram Desktop", "tdata")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// getAPICredentials reads API ID and Hash from env or prompts user
func getAPICredentials(reader *bufio.Reader) (int, string) {
	apiIDStr := os.Getenv("TG_API_ID")
	apiHash := os.Getenv("TG_API_HASH")

	if apiIDStr == "" {
		fmt.Print("enter your api_id (from https://my.telegram.org): ")
		apiIDStr, _ = reader.ReadString('\n')
		apiIDStr = strings.TrimSpace(apiIDStr)
	}
	if apiHash == "" {
		fmt.Print("enter your api_hash: ")
		apiHash, _ = reader.ReadString('\n')
		apiHash = strings.TrimSpace(apiHash)
	}

	apiID, err := strconv.Atoi(apiIDStr)
	if err != nil {
		fmt.Printf("error: invalid api_id: %v\n", err)
		os.Exit(1)
	}

	return apiID, apiHash
}

// authWithTData authenticates using Telegram Desktop session
func authWithTData(apiID int, apiHash, sessionPath string, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	var selectedAccount tdesktop.Account

	if len(accounts) == 1 {
		selectedAccount = accounts[0]
		fmt.Println("\nusing the only available account")
	} else {
		fmt.Printf("\nfound %d telegram accounts:\n", len(accounts))
		for i := range accounts {
			fmt.Printf("  %d. Account #%d\n", i+1, i+1)
		}

		fmt.Print("\nselect account number [1]: ")
		choice, _ := reader.ReadString('\n')
		choice = strings.TrimSpace(choice)

		idx := 0
		if choice != "" {
			n, err := strconv.Atoi(choice)
			if err == nil && n >= 1 && n <= len(accounts) {
				idx = n - 1
			}
		}
		selectedAccount = accounts[idx]
	}

	fmt.Println("\nauthenticating with telegram desktop session...")

	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(selectedAccount).Name(sessionName(sessionPath)),
			DisableCopyright: true,
		},
	)

	return client, err
}

// authWithPhone authenticates using phone number (SMS/code)
func authWithPhone(apiID int, apiHash, sessionPath string, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone, _ := reader.ReadString('\n')
	phone = strings.TrimSpace(phone)

	fmt.Println("\nauthenticating... (check telegram for code)")

	client, err := gotgproto.NewClient(
		apiID,
		apiHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(sqlite.Open(sessionPath)),
			DisableCopyright: true,
		},
	)

	return client, err
}

// authWithQR authenticates by showing a login QR code in the terminal.
// Uses a raw td client because gotgproto has no non-interactive QR flow,
// then converts and stores the session where the service expects it.
func authWithQR(apiID int, apiHash, sessionPath string) error {
	bundle := telegram.NewQRBundle(apiID, apiHash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var data *session.Data
	err := bundle.Client.Run(ctx, func(ctx context.Context) error {
		qr := bundle.Client.QR()
		loggedIn := qrlogin.OnLoginToken(&bundle.Dispatcher)

		_, err := qr.Auth(ctx, loggedIn, func(_ context.Context, token qrlogin.Token) error {
			fmt.Println("\nscan this qr code with the telegram app:")
			fmt.Println("settings -> devices -> link desktop device")
			fmt.Println()
			qrterminal.GenerateWithConfig(token.URL(), qrterminal.Config{
				Level:     qrterminal.L,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			return nil
		})
		if err != nil {
			return err
		}

		loader := session.Loader{Storage: bundle.Storage}
		data, err = loader.Load(ctx)
		return err
	})
	if err != nil {
		return err
	}

	return telegram.SaveSession(sessionPath, data)
}

// sessionName strips the directory and extension so tdata sessions land
// next to the configured session path.
func sessionName(sessionPath string) string {
	base := filepath.Base(sessionPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
