package services_test

import (
	"context"
	"testing"
	"time"

	"societyapp/models"
	"societyapp/services"
	"societyapp/testutil"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paidPayment(id string, owner uint, amount int64, status models.PaymentStatus) models.Payment {
	p := models.Payment{
		ID:       id,
		UserID:   owner,
		Amount:   decimal.NewFromInt(amount),
		Category: models.CategoryMaintenance,
		Status:   status,
	}
	if status == models.PaymentStatusCompleted {
		method := models.MethodUPI
		txID := "pay_" + id
		paidAt := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
		p.PaymentMethod = &method
		p.TransactionID = &txID
		p.PaidDate = &paidAt
	}
	return p
}

func TestRenderReceipt(t *testing.T) {
	payment := paidPayment("p-1", 1, 500, models.PaymentStatusCompleted)
	period := "2024-03"
	payment.BillingPeriod = &period
	owner := &models.User{Name: "Alice", FlatNumber: "101", Wing: "A"}

	data, err := services.RenderReceipt(&payment, owner)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	assert.Equal(t, "Payment Receipt", doc.FindElement("//title").Text())

	rows := map[string]string{}
	for _, row := range doc.FindElements("//div[@class='details']/div") {
		rows[row.SelectElement("strong").Text()] = row.SelectElement("span").Text()
	}
	assert.Equal(t, "p-1", rows["Receipt No: "])
	assert.Equal(t, "101, Wing A", rows["Flat: "])
	assert.Equal(t, "Maintenance", rows["Payment Type: "])
	assert.Equal(t, "UPI", rows["Payment Method: "])
	assert.Equal(t, "pay_p-1", rows["Transaction ID: "])
	assert.Equal(t, "2024-03", rows["Month: "])
	assert.Equal(t, "₹500.00", rows["Amount Paid: "])
}

func TestRenderReportTotalsCompletedOnly(t *testing.T) {
	payments := []models.Payment{
		paidPayment("a", 1, 500, models.PaymentStatusCompleted),
		paidPayment("b", 2, 300, models.PaymentStatusPending),
		paidPayment("c", 2, 250, models.PaymentStatusCompleted),
		paidPayment("d", 1, 900, models.PaymentStatusFailed),
	}
	owners := map[uint]models.User{
		1: {Name: "Alice", FlatNumber: "101"},
		2: {Name: "Bob", FlatNumber: "102", Wing: "B"},
	}

	data, err := services.RenderReport(payments, owners, time.Now())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))

	rows := doc.FindElements("//tbody/tr")
	require.Len(t, rows, len(payments)+1)
	assert.Equal(t, "Bob", rows[1].SelectElements("td")[1].Text())
	assert.Equal(t, "102, B", rows[1].SelectElements("td")[2].Text())

	total := doc.FindElement("//tr[@class='total']")
	require.NotNil(t, total)
	cells := total.SelectElements("td")
	assert.Equal(t, "Total Collected", cells[0].Text())
	assert.Equal(t, "₹750.00", cells[1].Text())
}

func TestReceiptServiceUploads(t *testing.T) {
	storage := &testutil.FakeStorage{}
	receipts := services.NewReceiptService(storage)
	ctx := context.Background()

	pending := paidPayment("p-2", 1, 100, models.PaymentStatusPending)
	_, err := receipts.Generate(ctx, &pending, nil)
	assert.ErrorIs(t, err, services.ErrValidation)

	done := paidPayment("p-3", 1, 100, models.PaymentStatusCompleted)
	obj, err := receipts.Generate(ctx, &done, &models.User{Name: "Alice", FlatNumber: "101"})
	require.NoError(t, err)
	assert.Contains(t, obj.ObjectID, "receipts/receipt-p-3-")
	require.Len(t, storage.Documents, 1)
	assert.Equal(t, "application/xhtml+xml", storage.Documents[0].ContentType)

	_, err = receipts.GenerateReport(ctx, []models.Payment{done}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, storage.Count("reports"))
}
