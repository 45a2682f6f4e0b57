package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"societyapp/models"
	"societyapp/utils"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

const (
	receiptsFolder = "receipts"
	reportsFolder  = "reports"
	documentType   = "application/xhtml+xml"
	societyTitle   = "Society Management App"
)

const documentStyle = `body { font-family: Arial, sans-serif; margin: 20px; }
.header { text-align: center; border-bottom: 2px solid #333; padding-bottom: 20px; }
.row { margin: 10px 0; }
.amount { font-size: 24px; font-weight: bold; color: #28a745; }
table { width: 100%; border-collapse: collapse; margin: 20px 0; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
.total { font-weight: bold; background-color: #e9ecef; }
.footer { margin-top: 40px; text-align: center; font-size: 12px; color: #666; }`

// ReceiptService формирует квитанции и отчеты и выгружает их в хранилище
type ReceiptService struct {
	storage Storage
	now     func() time.Time
}

// NewReceiptService создает новый экземпляр ReceiptService
func NewReceiptService(storage Storage) *ReceiptService {
	return &ReceiptService{storage: storage, now: time.Now}
}

// Generate формирует квитанцию по завершенному платежу и загружает ее
func (s *ReceiptService) Generate(ctx context.Context, payment *models.Payment, owner *models.User) (*StoredObject, error) {
	if payment.Status != models.PaymentStatusCompleted {
		return nil, validationError("receipt is only available for completed payments")
	}

	data, err := RenderReceipt(payment, owner)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования квитанции: %w", err)
	}

	name := fmt.Sprintf("receipt-%s-%d.xhtml", payment.ID, s.now().Unix())
	return s.storage.Upload(ctx, receiptsFolder, name, documentType, data)
}

// GenerateReport формирует сводный отчет по платежам и загружает его
func (s *ReceiptService) GenerateReport(ctx context.Context, payments []models.Payment, owners map[uint]models.User) (*StoredObject, error) {
	generatedAt := s.now()
	data, err := RenderReport(payments, owners, generatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования отчета: %w", err)
	}

	// Отчеты за одну секунду не должны перезаписывать друг друга
	suffix, err := utils.GenerateSecureToken(6)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("payment-report-%s-%s.xhtml", generatedAt.Format("20060102-150405"), suffix)
	return s.storage.Upload(ctx, reportsFolder, name, documentType, data)
}

// RenderReceipt строит XHTML-документ квитанции
func RenderReceipt(payment *models.Payment, owner *models.User) ([]byte, error) {
	doc, body := newDocument("Payment Receipt")

	details := body.CreateElement("div")
	details.CreateAttr("class", "details")

	paidAt := time.Now()
	if payment.PaidDate != nil {
		paidAt = *payment.PaidDate
	}
	method := "Online"
	if payment.PaymentMethod != nil {
		method = strings.ToUpper(string(*payment.PaymentMethod))
	}
	transactionID := ""
	if payment.TransactionID != nil {
		transactionID = *payment.TransactionID
	}

	addRow(details, "Receipt No", payment.ID)
	addRow(details, "Date", paidAt.Format("02 Jan 2006"))
	if owner != nil {
		addRow(details, "Name", owner.Name)
		addRow(details, "Flat", flatLabel(owner, ", Wing "))
	}
	addRow(details, "Payment Type", titleCase(string(payment.Category)))
	if payment.Description != "" {
		addRow(details, "Description", payment.Description)
	}
	if payment.BillingPeriod != nil {
		addRow(details, "Month", *payment.BillingPeriod)
	}
	addRow(details, "Payment Method", method)
	addRow(details, "Transaction ID", transactionID)
	amount := addRow(details, "Amount Paid", "₹"+payment.Amount.StringFixed(2))
	amount.CreateAttr("class", "row amount")

	footer := body.CreateElement("div")
	footer.CreateAttr("class", "footer")
	footer.CreateElement("p").SetText("This is a computer generated receipt and does not require signature.")
	footer.CreateElement("p").SetText("For any queries, please contact the society management.")

	doc.Indent(2)
	return doc.WriteToBytes()
}

// RenderReport строит XHTML-документ отчета. Итог считается только по completed.
func RenderReport(payments []models.Payment, owners map[uint]models.User, generatedAt time.Time) ([]byte, error) {
	doc, body := newDocument("Payment Report")

	header := body.FindElement("div[@class='header']")
	header.CreateElement("p").SetText("Generated on: " + generatedAt.Format("02 Jan 2006"))

	table := body.CreateElement("table")
	headRow := table.CreateElement("thead").CreateElement("tr")
	for _, title := range []string{"Date", "Name", "Flat", "Type", "Amount", "Status", "Method"} {
		headRow.CreateElement("th").SetText(title)
	}

	tbody := table.CreateElement("tbody")
	total := decimal.Zero
	for i := range payments {
		p := &payments[i]
		if p.Status == models.PaymentStatusCompleted {
			total = total.Add(p.Amount)
		}

		date := p.CreatedAt
		if p.PaidDate != nil {
			date = *p.PaidDate
		}
		name, flat := "", ""
		if owner, ok := owners[p.UserID]; ok {
			name = owner.Name
			flat = flatLabel(&owner, ", ")
		}
		method := "-"
		if p.PaymentMethod != nil {
			method = string(*p.PaymentMethod)
		}

		tr := tbody.CreateElement("tr")
		for _, cell := range []string{
			date.Format("02 Jan 2006"),
			name,
			flat,
			string(p.Category),
			"₹" + p.Amount.StringFixed(2),
			string(p.Status),
			method,
		} {
			tr.CreateElement("td").SetText(cell)
		}
	}

	totalRow := tbody.CreateElement("tr")
	totalRow.CreateAttr("class", "total")
	label := totalRow.CreateElement("td")
	label.CreateAttr("colspan", "4")
	label.SetText("Total Collected")
	totalRow.CreateElement("td").SetText("₹" + total.StringFixed(2))
	totalRow.CreateElement("td").CreateAttr("colspan", "2")

	doc.Indent(2)
	return doc.WriteToBytes()
}

func newDocument(title string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	html := doc.CreateElement("html")
	html.CreateAttr("xmlns", "http://www.w3.org/1999/xhtml")

	head := html.CreateElement("head")
	head.CreateElement("meta").CreateAttr("charset", "utf-8")
	head.CreateElement("title").SetText(title)
	head.CreateElement("style").SetText(documentStyle)

	body := html.CreateElement("body")
	header := body.CreateElement("div")
	header.CreateAttr("class", "header")
	header.CreateElement("h1").SetText(societyTitle)
	header.CreateElement("h2").SetText(title)

	return doc, body
}

func addRow(parent *etree.Element, label, value string) *etree.Element {
	row := parent.CreateElement("div")
	row.CreateAttr("class", "row")
	row.CreateElement("strong").SetText(label + ": ")
	row.CreateElement("span").SetText(value)
	return row
}

func flatLabel(owner *models.User, wingSeparator string) string {
	if owner.Wing == "" {
		return owner.FlatNumber
	}
	return owner.FlatNumber + wingSeparator + owner.Wing
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
