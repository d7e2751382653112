package sdk

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"

	apperrors "github.com/capsula-wallet/capsula/pkg/errors"
	"github.com/capsula-wallet/capsula/pkg/types"
)

// ToastKind selects the toast style.
type ToastKind string

// Toast kinds
const (
	ToastInfo    ToastKind = "info"
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// QR code size bounds in pixels.
const (
	DefaultQRSize = 256
	MaxQRSize     = 1024
)

// Presenter is implemented by the host UI. Every call names the mini-app
// so the host can attribute the dialog.
type Presenter interface {
	ShowToast(ctx context.Context, miniAppID, message string, kind ToastKind) error
	ShowAlert(ctx context.Context, miniAppID, title, message string) error
	Confirm(ctx context.Context, miniAppID, title, message string) (bool, error)
}

// UICapability lets a mini-app show host dialogs.
type UICapability struct {
	guard     *guard
	presenter Presenter
	keys      KeyManager
}

func (*UICapability) Domain() Domain { return DomainUI }
func (*UICapability) capability()    {}

// Methods implements Capability
func (*UICapability) Methods() []string {
	return []string{MethodUIShowToast, MethodUIShowAlert, MethodUIConfirm, MethodUIAddressQRCode}
}

// ShowToast shows a transient message.
func (c *UICapability) ShowToast(ctx context.Context, message string, kind ToastKind) (types.Result[types.Empty], error) {
	if err := c.guard.check(ctx, MethodUIShowToast); err != nil {
		return types.Result[types.Empty]{}, err
	}
	if c.presenter == nil {
		return types.Fail[types.Empty](apperrors.ErrUIUnavailable.WithDetail("no presenter")), nil
	}
	if kind == "" {
		kind = ToastInfo
	}
	if err := c.presenter.ShowToast(c.guard.ctx(ctx, MethodUIShowToast), c.guard.miniAppID, message, kind); err != nil {
		return types.Fail[types.Empty](apperrors.ErrUIUnavailable.WithDetail(err.Error())), nil
	}
	return types.Ok(types.Empty{}), nil
}

// ShowAlert shows a modal message.
func (c *UICapability) ShowAlert(ctx context.Context, title, message string) (types.Result[types.Empty], error) {
	if err := c.guard.check(ctx, MethodUIShowAlert); err != nil {
		return types.Result[types.Empty]{}, err
	}
	if c.presenter == nil {
		return types.Fail[types.Empty](apperrors.ErrUIUnavailable.WithDetail("no presenter")), nil
	}
	if err := c.presenter.ShowAlert(c.guard.ctx(ctx, MethodUIShowAlert), c.guard.miniAppID, title, message); err != nil {
		return types.Fail[types.Empty](apperrors.ErrUIUnavailable.WithDetail(err.Error())), nil
	}
	return types.Ok(types.Empty{}), nil
}

// Confirm asks the user a yes/no question.
func (c *UICapability) Confirm(ctx context.Context, title, message string) (types.Result[bool], error) {
	if err := c.guard.check(ctx, MethodUIConfirm); err != nil {
		return types.Result[bool]{}, err
	}
	if c.presenter == nil {
		return types.Fail[bool](apperrors.ErrUIUnavailable.WithDetail("no presenter")), nil
	}
	ok, err := c.presenter.Confirm(c.guard.ctx(ctx, MethodUIConfirm), c.guard.miniAppID, title, message)
	if err != nil {
		return types.Fail[bool](apperrors.ErrUIUnavailable.WithDetail(err.Error())), nil
	}
	return types.Ok(ok), nil
}

// AddressQRCode renders the active wallet address as a base64 PNG QR code.
// size is clamped to MaxQRSize; zero means DefaultQRSize.
func (c *UICapability) AddressQRCode(ctx context.Context, size int) (types.Result[string], error) {
	if err := c.guard.check(ctx, MethodUIAddressQRCode); err != nil {
		return types.Result[string]{}, err
	}
	ctx = c.guard.ctx(ctx, MethodUIAddressQRCode)

	w := c.keys.ActiveWallet(ctx)
	if !w.Success {
		return fromResult[string](w), nil
	}

	png, err := addressQRCode(w.Data.Address, size)
	if err != nil {
		return types.Fail[string](apperrors.ErrUIUnavailable.WithDetail(err.Error())), nil
	}
	return types.Ok(png), nil
}

func addressQRCode(address string, size int) (string, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	if size > MaxQRSize {
		size = MaxQRSize
	}

	qr, err := qrcode.New(address, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
